package config

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/samsamfire/gosdo/pkg/sdo"
	"gopkg.in/ini.v1"
)

// SDOConfig holds the SDO settings of a node, as loaded from an INI file :
//
//	[SDO]
//	NodeId=0x10          ; local server node id, 0 disables the server
//	ServerNodeId=0x20    ; node reached by the client
//	Timeout=1000         ; ms
//	BlockTimeout=500     ; ms
//	BlockSize=127
//	SwitchThreshold=21
//	CRC=true
//	BlockTransfer=false
//
//	[SDOServerParameter]
//	COB_ID_Client_to_Server=0x610
//	COB_ID_Server_to_Client=0x590
//
//	[SDOClientParameter]
//	COB_ID_Client_to_Server=0x620
//	COB_ID_Server_to_Client=0x5A0
//	NodeId=0x20
//
// The parameter sections are optional and override the default channels.
type SDOConfig struct {
	NodeId          uint8
	ServerNodeId    uint8
	Timeout         time.Duration
	BlockTimeout    time.Duration
	BlockSize       uint8
	SwitchThreshold uint8
	CRC             bool
	BlockTransfer   bool
	Server          *sdo.Params
	Client          *sdo.Params
}

// DefaultSDOConfig returns the settings used for missing keys
func DefaultSDOConfig() *SDOConfig {
	return &SDOConfig{
		Timeout:         sdo.DefaultClientTimeout,
		BlockTimeout:    sdo.DefaultBlockTimeout,
		BlockSize:       sdo.BlockMaxSize,
		SwitchThreshold: sdo.ClientProtocolSwitchThreshold,
		CRC:             true,
	}
}

// LoadSDOConfig loads an SDO configuration file.
// file can be either a path, []byte or an io.Reader
func LoadSDOConfig(file any) (*SDOConfig, error) {
	if reader, ok := file.(io.Reader); ok {
		raw, err := io.ReadAll(reader)
		if err != nil {
			return nil, err
		}
		file = raw
	}
	cfgFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	config := DefaultSDOConfig()
	section := cfgFile.Section("SDO")

	if config.NodeId, err = parseUint8(section, "NodeId", 0); err != nil {
		return nil, err
	}
	if config.ServerNodeId, err = parseUint8(section, "ServerNodeId", 0); err != nil {
		return nil, err
	}
	if config.Timeout, err = parseMs(section, "Timeout", config.Timeout); err != nil {
		return nil, err
	}
	if config.BlockTimeout, err = parseMs(section, "BlockTimeout", config.BlockTimeout); err != nil {
		return nil, err
	}
	if config.BlockSize, err = parseUint8(section, "BlockSize", config.BlockSize); err != nil {
		return nil, err
	}
	if config.BlockSize < sdo.BlockMinSize || config.BlockSize > sdo.BlockMaxSize {
		return nil, fmt.Errorf("[CONFIG] 'BlockSize' %v out of range", config.BlockSize)
	}
	if config.SwitchThreshold, err = parseUint8(section, "SwitchThreshold", config.SwitchThreshold); err != nil {
		return nil, err
	}
	config.CRC = section.Key("CRC").MustBool(config.CRC)
	config.BlockTransfer = section.Key("BlockTransfer").MustBool(config.BlockTransfer)

	if section, err := cfgFile.GetSection("SDOServerParameter"); err == nil {
		if config.Server, err = parseParams(section); err != nil {
			return nil, err
		}
	}
	if section, err := cfgFile.GetSection("SDOClientParameter"); err == nil {
		if config.Client, err = parseParams(section); err != nil {
			return nil, err
		}
	}
	return config, nil
}

func parseUint(section *ini.Section, name string, bits int, value uint64) (uint64, error) {
	key, err := section.GetKey(name)
	if err != nil {
		return value, nil
	}
	value, err = strconv.ParseUint(key.Value(), 0, bits)
	if err != nil {
		return 0, fmt.Errorf("[CONFIG] failed to parse '%v' in [%v] : %v", name, section.Name(), err)
	}
	return value, nil
}

func parseUint8(section *ini.Section, name string, value uint8) (uint8, error) {
	parsed, err := parseUint(section, name, 8, uint64(value))
	return uint8(parsed), err
}

func parseMs(section *ini.Section, name string, value time.Duration) (time.Duration, error) {
	parsed, err := parseUint(section, name, 32, uint64(value.Milliseconds()))
	return time.Duration(parsed) * time.Millisecond, err
}

func parseParams(section *ini.Section) (*sdo.Params, error) {
	c2s, err := parseUint(section, "COB_ID_Client_to_Server", 32, uint64(sdo.CobIdInvalid))
	if err != nil {
		return nil, err
	}
	s2c, err := parseUint(section, "COB_ID_Server_to_Client", 32, uint64(sdo.CobIdInvalid))
	if err != nil {
		return nil, err
	}
	nodeId, err := parseUint8(section, "NodeId", 0)
	if err != nil {
		return nil, err
	}
	return &sdo.Params{CobIdClientToServer: uint32(c2s), CobIdServerToClient: uint32(s2c), NodeId: nodeId}, nil
}

// ApplyClient configures client, the channel comes from [SDOConfig.Client]
// if given, from [SDOConfig.ServerNodeId] otherwise.
func (config *SDOConfig) ApplyClient(client *sdo.SDOClient) error {
	client.SetTimeout(config.Timeout)
	client.SetTimeoutBlockTransfer(config.BlockTimeout)
	client.SetProtocolSwitchThreshold(config.SwitchThreshold)
	client.SetCRC(config.CRC)
	client.SetBlockTransfer(config.BlockTransfer)
	if err := client.SetBlockMaxSize(config.BlockSize); err != nil {
		return err
	}
	if config.Client != nil {
		return setParams(client.SetParams, *config.Client)
	}
	if config.ServerNodeId != 0 {
		return client.SetServer(config.ServerNodeId)
	}
	return nil
}

// ApplyServer configures server, the channel comes from
// [SDOConfig.Server] if given.
func (config *SDOConfig) ApplyServer(server *sdo.SDOServer) error {
	server.SetTimeout(config.Timeout)
	server.SetTimeoutBlockTransfer(config.BlockTimeout)
	if err := server.SetBlockMaxSize(config.BlockSize); err != nil {
		return err
	}
	if config.Server != nil {
		return setParams(server.SetParams, *config.Server)
	}
	return nil
}

// setParams goes through an invalid channel with the new identifiers, as
// identifiers of a valid channel cannot change
func setParams(set func(sdo.Params) error, params sdo.Params) error {
	invalid := params
	invalid.CobIdClientToServer |= sdo.CobIdInvalid
	invalid.CobIdServerToClient |= sdo.CobIdInvalid
	if err := set(invalid); err != nil {
		return err
	}
	return set(params)
}
