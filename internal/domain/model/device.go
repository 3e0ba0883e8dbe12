package model

import "github.com/amimof/huego"

// Device is a virtual Hue light backed by the hub.
type Device struct {
	ID            string
	Name          string
	Type          MappingType
	State         *huego.State
	VirtualDevice *VirtualDevice
}

// HueMetadata is how a virtual light describes itself to Hue clients.
type HueMetadata struct {
	Type             string
	ModelID          string
	ManufacturerName string
}
