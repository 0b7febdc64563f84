package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/samsamfire/gosdo/pkg/config"
	"github.com/samsamfire/gosdo/pkg/od"
	"github.com/samsamfire/gosdo/pkg/sdo"
)

var datatypes = map[string]uint8{
	"b":   od.BOOLEAN,
	"u8":  od.UNSIGNED8,
	"u16": od.UNSIGNED16,
	"u32": od.UNSIGNED32,
	"u64": od.UNSIGNED64,
	"i8":  od.INTEGER8,
	"i16": od.INTEGER16,
	"i32": od.INTEGER32,
	"i64": od.INTEGER64,
	"r32": od.REAL32,
	"r64": od.REAL64,
	"vs":  od.VISIBLE_STRING,
	"os":  od.OCTET_STRING,
	"d":   od.DOMAIN,
}

func parseDatatype(name string) (uint8, error) {
	dataType, ok := datatypes[name]
	if !ok {
		return 0, fmt.Errorf("%w : unknown type %q", errUsage, name)
	}
	return dataType, nil
}

// encodeValue encodes value given as text, octet strings and domains
// are given in hex
func encodeValue(typeName string, value string) ([]byte, error) {
	dataType, err := parseDatatype(typeName)
	if err != nil {
		return nil, err
	}
	switch dataType {
	case od.OCTET_STRING, od.DOMAIN:
		return hex.DecodeString(value)
	}
	return od.EncodeFromString(value, dataType, 0)
}

func runRead(ctx context.Context, client *sdo.SDOClient, nodeId uint8, args []string) error {
	index, subindex, err := parseAddress(args)
	if err != nil {
		return err
	}
	label := fmt.Sprintf("x%04x|x%02x", index, subindex)
	typeName := "d"
	if len(args) > 2 {
		typeName = args[2]
	}
	dataType, err := parseDatatype(typeName)
	if err != nil {
		return err
	}
	switch dataType {
	case od.VISIBLE_STRING:
		value, err := client.ReadString(ctx, nodeId, index, subindex)
		if err != nil {
			return err
		}
		printValue(label, value)
	case od.OCTET_STRING, od.DOMAIN:
		data, err := client.ReadAll(ctx, nodeId, index, subindex)
		if err != nil {
			return err
		}
		printValue(label, data)
	default:
		value, err := client.Read(ctx, nodeId, index, subindex, dataType)
		if err != nil {
			return err
		}
		printValue(label, value)
	}
	return nil
}

func runWrite(ctx context.Context, client *sdo.SDOClient, nodeId uint8, args []string) error {
	index, subindex, err := parseAddress(args)
	if err != nil {
		return err
	}
	if len(args) < 4 {
		return fmt.Errorf("%w : expecting <index> <subindex> <type> <value>", errUsage)
	}
	data, err := encodeValue(args[2], args[3])
	if err != nil {
		return err
	}
	if err := client.WriteRaw(ctx, nodeId, index, subindex, data, false); err != nil {
		return err
	}
	printValue(fmt.Sprintf("x%04x|x%02x", index, subindex), "written")
	return nil
}

func runInfo(ctx context.Context, client *sdo.SDOClient, nodeId uint8) error {
	configurator := config.NewNodeConfigurator(nodeId, client)
	configurator.SetTimeout(0)
	identity, err := configurator.ReadIdentity(ctx)
	if err != nil {
		return err
	}
	printValue("Vendor id", identity.VendorId)
	printValue("Product code", identity.ProductCode)
	printValue("Revision number", identity.RevisionNumber)
	printValue("Serial number", identity.SerialNumber)

	info := configurator.ReadManufacturerInformation(ctx)
	printValue("Device name", info.ManufacturerDeviceName)
	printValue("Hardware version", info.ManufacturerHardwareVersion)
	printValue("Software version", info.ManufacturerSoftwareVersion)

	params, err := configurator.ReadSDOServerParams(ctx, 0)
	if err != nil {
		return err
	}
	printValue("SDO server channel", params.String())
	return nil
}
