package config

import (
	"context"

	"github.com/samsamfire/gosdo/pkg/od"
)

type Identity struct {
	VendorId       uint32
	ProductCode    uint32
	RevisionNumber uint32
	SerialNumber   uint32
}

type ManufacturerInformation struct {
	ManufacturerDeviceName      string
	ManufacturerHardwareVersion string
	ManufacturerSoftwareVersion string
}

// Read device type (0x1000, mandatory)
func (config *NodeConfigurator) ReadDeviceType(ctx context.Context) (uint32, error) {
	return config.readUint32(ctx, od.EntryDeviceType, 0)
}

// Read identity object (0x1018, mandatory)
func (config *NodeConfigurator) ReadIdentity(ctx context.Context) (*Identity, error) {
	// Vendor ID is the only mandatory field
	vendorId, err := config.readUint32(ctx, od.EntryIdentityObject, 1)
	if err != nil {
		return nil, err
	}
	productCode, _ := config.readUint32(ctx, od.EntryIdentityObject, 2)
	revisionNumber, _ := config.readUint32(ctx, od.EntryIdentityObject, 3)
	serialNumber, _ := config.readUint32(ctx, od.EntryIdentityObject, 4)
	return &Identity{
		VendorId:       vendorId,
		ProductCode:    productCode,
		RevisionNumber: revisionNumber,
		SerialNumber:   serialNumber,
	}, nil
}

// Read manufacturer device name
func (config *NodeConfigurator) ReadManufacturerDeviceName(ctx context.Context) (string, error) {
	return config.readString(ctx, od.EntryManufacturerDeviceName, 0)
}

// Read Manufacturer hardware version
func (config *NodeConfigurator) ReadManufacturerHardwareVersion(ctx context.Context) (string, error) {
	return config.readString(ctx, od.EntryManufacturerHardwareVersion, 0)
}

// Read manufacturer software version
func (config *NodeConfigurator) ReadManufacturerSoftwareVersion(ctx context.Context) (string, error) {
	return config.readString(ctx, od.EntryManufacturerSoftwareVersion, 0)
}

// Read manufacturer information, objects that are missing are left empty
func (config *NodeConfigurator) ReadManufacturerInformation(ctx context.Context) ManufacturerInformation {
	info := ManufacturerInformation{}
	info.ManufacturerDeviceName, _ = config.ReadManufacturerDeviceName(ctx)
	info.ManufacturerHardwareVersion, _ = config.ReadManufacturerHardwareVersion(ctx)
	info.ManufacturerSoftwareVersion, _ = config.ReadManufacturerSoftwareVersion(ctx)
	return info
}
