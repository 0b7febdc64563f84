package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/samsamfire/gosdo/pkg/sdo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sdoConfig = `
[SDO]
NodeId=0x10
ServerNodeId=0x10
Timeout=2000
BlockTimeout=250
BlockSize=16
SwitchThreshold=0
CRC=false
BlockTransfer=true

[SDOServerParameter]
COB_ID_Client_to_Server=0x200
COB_ID_Server_to_Client=0x280

[SDOClientParameter]
COB_ID_Client_to_Server=0x200
COB_ID_Server_to_Client=0x280
NodeId=0x10
`

func TestLoadSDOConfig(t *testing.T) {
	config, err := LoadSDOConfig(strings.NewReader(sdoConfig))
	require.Nil(t, err)
	assert.EqualValues(t, 0x10, config.NodeId)
	assert.EqualValues(t, 0x10, config.ServerNodeId)
	assert.Equal(t, 2*time.Second, config.Timeout)
	assert.Equal(t, 250*time.Millisecond, config.BlockTimeout)
	assert.EqualValues(t, 16, config.BlockSize)
	assert.EqualValues(t, 0, config.SwitchThreshold)
	assert.False(t, config.CRC)
	assert.True(t, config.BlockTransfer)
	assert.Equal(t, &sdo.Params{CobIdClientToServer: 0x200, CobIdServerToClient: 0x280}, config.Server)
	assert.Equal(t, &sdo.Params{CobIdClientToServer: 0x200, CobIdServerToClient: 0x280, NodeId: 0x10}, config.Client)
}

func TestLoadSDOConfigDefaults(t *testing.T) {
	config, err := LoadSDOConfig([]byte("[SDO]\nServerNodeId=5\n"))
	require.Nil(t, err)
	expected := DefaultSDOConfig()
	expected.ServerNodeId = 5
	assert.Equal(t, expected, config)
}

func TestLoadSDOConfigInvalid(t *testing.T) {
	for _, raw := range []string{
		"[SDO]\nNodeId=300\n",
		"[SDO]\nTimeout=abc\n",
		"[SDO]\nBlockSize=0\n",
		"[SDO]\nBlockSize=128\n",
		"[SDOServerParameter]\nCOB_ID_Client_to_Server=0x1FFFFFFFF\n",
	} {
		_, err := LoadSDOConfig([]byte(raw))
		assert.NotNil(t, err, raw)
	}
	_, err := LoadSDOConfig("testdata/missing.ini")
	assert.NotNil(t, err)
}

func TestApplySDOConfig(t *testing.T) {
	n := newTestNetwork(t)
	config, err := LoadSDOConfig([]byte(sdoConfig))
	require.Nil(t, err)
	require.Nil(t, config.ApplyServer(n.server))
	require.Nil(t, config.ApplyClient(n.client))
	assert.Equal(t, *config.Server, n.server.Params())
	assert.Equal(t, *config.Client, n.client.Params())

	// block transfer on the configured channel
	data := []byte(strings.Repeat("configured channel ", 20))
	ctx := context.Background()
	require.Nil(t, n.client.WriteRaw(ctx, 0, 0x2000, 0, data, false))
	read, err := n.client.ReadAll(ctx, 0, 0x2000, 0)
	require.Nil(t, err)
	assert.Equal(t, data, read)
}
