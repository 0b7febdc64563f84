//go:build linux

package main

import _ "github.com/samsamfire/gosdo/pkg/can/rawcan"
