package shared

// Inventory permissions declared for RBAC.
const (
	PermInventoryView              = "inventory.view"
	PermInventoryReceive           = "inventory.receive"
	PermInventorySerialize         = "inventory.serialize"
	PermInventoryMove              = "inventory.move"
	PermInventoryCases             = "inventory.cases"
	PermInventoryLocations         = "inventory.locations.manage"
	PermInventoryExceptionsResolve = "inventory.exceptions.resolve"
	PermInventoryOverride          = "inventory.override"
	PermInventoryWMS               = "inventory.wms.ingest"
)

// InventoryScopes lists all permissions related to the inventory module.
func InventoryScopes() []string {
	return []string{
		PermInventoryView,
		PermInventoryReceive,
		PermInventorySerialize,
		PermInventoryMove,
		PermInventoryCases,
		PermInventoryLocations,
		PermInventoryExceptionsResolve,
		PermInventoryOverride,
		PermInventoryWMS,
	}
}
