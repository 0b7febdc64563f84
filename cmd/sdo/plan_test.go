package main

import (
	"testing"

	"github.com/samsamfire/gosdo/pkg/sdo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBatchPlan(t *testing.T) {
	raw, nodeId, err := loadBatch("testdata/plan.yaml")
	require.Nil(t, err)
	assert.EqualValues(t, 0x10, nodeId)

	entries, err := sdo.ParseConcise(raw)
	require.Nil(t, err)
	assert.Equal(t, []sdo.ConciseEntry{
		{Index: 0x2001, Subindex: 0, Data: []byte{0x21, 0x43}},
		{Index: 0x2000, Subindex: 0, Data: []byte("payload written from a batch plan")},
	}, entries)
}

func TestLoadBatchBinary(t *testing.T) {
	raw, nodeId, err := loadBatch("testdata/payload.bin")
	require.Nil(t, err)
	assert.EqualValues(t, 0, nodeId)
	assert.Equal(t, []byte("payload written from a batch plan"), raw)
}

func TestPlanErrors(t *testing.T) {
	for _, content := range []string{
		"entries:\n  - index: 0x2001\n",
		"entries:\n  - index: 0x2001\n    type: u16\n    file: x.bin\n",
		"entries:\n  - index: 0x2001\n    type: u16\n    value: 0x10000\n",
		"entries:\n  - index: 0x2001\n    type: f32\n    value: 1\n",
		"entries:\n  - index: 0x2001\n    file: missing.bin\n",
	} {
		plan, err := parsePlan([]byte(content))
		require.Nil(t, err, content)
		_, err = plan.Concise("testdata")
		assert.NotNil(t, err, content)
	}
	_, err := parsePlan([]byte("entries: ["))
	assert.NotNil(t, err)
}

func TestEncodeValue(t *testing.T) {
	data, err := encodeValue("u32", "0x12345678")
	require.Nil(t, err)
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, data)
	data, err = encodeValue("i8", "-2")
	require.Nil(t, err)
	assert.Equal(t, []byte{0xFE}, data)
	data, err = encodeValue("vs", "hello")
	require.Nil(t, err)
	assert.Equal(t, []byte("hello"), data)
	data, err = encodeValue("d", "00ff10")
	require.Nil(t, err)
	assert.Equal(t, []byte{0x00, 0xFF, 0x10}, data)

	_, err = encodeValue("d", "0g")
	assert.NotNil(t, err)
	_, err = encodeValue("x", "1")
	assert.ErrorIs(t, err, errUsage)
}
