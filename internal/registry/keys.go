package registry

import "sfu-gateway/internal/model"

// Key layout shared with the SFUs. Changing any of these breaks the
// contract with running SFU instances.

func keySfuIDs() string { return "sfuids" }

func keySfuStatus(id model.SfuID) string { return "sfu:" + string(id) + ":status" }

func keyRoomTracks(id model.RoomID) string { return "room:" + string(id) + ":tracks" }

func keyNotification(key string) string { return key + ":notification" }

// keyLegacyRoomSfu is the single-SFU-per-room mapping written by v1 SFUs.
func keyLegacyRoomSfu(id model.RoomID) string { return "room:" + string(id) + ":sfu" }
