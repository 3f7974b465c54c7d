// Package model defines the data types shared by the registry, the
// selection strategies and the gateway.
//
// Identifiers are distinct string types so a RoomID can never be passed
// where an SfuID is expected.
package model
