// Package schema compiles cache topologies declared in CUE.
//
// A topology names each cache and the dependencies between them:
//
//	cache: customer: {}
//	cache: order: {
//		identity: "id"
//		dependency: [
//			{target: "customer"},
//			{target: "item", foreignKey: "itemIds", field: "items"},
//		]
//	}
//
// Omitted names take the cache defaults: identity "<name>Id", foreign key
// "<target>Id", resolved field "<target>".
package schema
