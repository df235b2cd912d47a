package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		codec:         "native",
		listenAddr:    ":20000",
		addrFamily:    "udp",
		linkMTU:       1500,
		baseTimeoutUS: 100000,
		backend:       "serial",
		serialDev:     "/dev/null",
		baud:          115200,
		serialReadTO:  10 * time.Millisecond,
		canIf:         "can0",
		poolInitial:   32,
		poolGrowBy:    16,
		logFormat:     "text",
		logLevel:      "info",
		filterID:      "0",
		filterMask:    "0",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badCodec", func(c *appConfig) { c.codec = "xx" }},
		{"badFamily", func(c *appConfig) { c.addrFamily = "xx" }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"badLinkMTU", func(c *appConfig) { c.linkMTU = 0 }},
		{"badBaseTimeout", func(c *appConfig) { c.baseTimeoutUS = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badPoolInitial", func(c *appConfig) { c.poolInitial = 0 }},
		{"badPoolGrowBy", func(c *appConfig) { c.poolGrowBy = 0 }},
		{"badFilterID", func(c *appConfig) { c.filterID = "zz" }},
		{"badFilterMask", func(c *appConfig) { c.filterMask = "zz" }},
		{"checkPeerNoRemote", func(c *appConfig) { c.checkPeer = true; c.remoteAddr = "" }},
	}
	for _, tc := range tests {
		c := baseConfig()
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
