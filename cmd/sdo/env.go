package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type environment struct {
	canInterface string
	channel      string
	bitrate      int
	nodeId       uint8
	configPath   string
	logFile      string
}

// loadEnvironment reads flag defaults from SDO_INTERFACE, SDO_CHANNEL,
// SDO_BITRATE, SDO_NODE_ID, SDO_CONFIG and SDO_LOG_FILE, a .env file in
// the working directory is loaded first if present.
func loadEnvironment() environment {
	_ = godotenv.Load() // ignore error if .env not found

	env := environment{
		canInterface: os.Getenv("SDO_INTERFACE"),
		channel:      os.Getenv("SDO_CHANNEL"),
		configPath:   os.Getenv("SDO_CONFIG"),
		logFile:      os.Getenv("SDO_LOG_FILE"),
	}
	if env.canInterface == "" {
		env.canInterface = "socketcan"
	}
	if env.channel == "" {
		env.channel = "can0"
	}
	bitrate, err := strconv.Atoi(os.Getenv("SDO_BITRATE"))
	if err != nil || bitrate <= 0 {
		bitrate = 500000
	}
	env.bitrate = bitrate
	nodeId, err := strconv.ParseUint(os.Getenv("SDO_NODE_ID"), 0, 8)
	if err == nil {
		env.nodeId = uint8(nodeId)
	}
	return env
}
