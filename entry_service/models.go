package entry_service

import (
	"time"
)

// Status is the lifecycle state of one entry.
type Status string

const (
	StatusActive      Status = "active"
	StatusInterviewed Status = "interviewed"
	StatusNoResponse  Status = "no_response"
	StatusDeleted     Status = "deleted"
)

// Blocking reports whether an entry in this status prevents its owner from
// registering again.
func (s Status) Blocking() bool {
	return s == StatusActive || s == StatusInterviewed
}

// SlotKey names an arrival time slot.
type SlotKey string

const (
	Slot0to3    SlotKey = "0-3"
	Slot3to6    SlotKey = "3-6"
	Slot6to9    SlotKey = "6-9"
	Slot9to12   SlotKey = "9-12"
	Slot12to15  SlotKey = "12-15"
	Slot15to20  SlotKey = "15-20"
	Slot20to0   SlotKey = "20-0"
	SlotAnytime SlotKey = "anytime"
	SlotOther   SlotKey = "other"
)

// Slot pairs a key with its display label.
type Slot struct {
	Key   SlotKey
	Label string
}

// Slots is the display order of every slot.
var Slots = []Slot{
	{Slot0to3, "0:00-3:00"},
	{Slot3to6, "3:00-6:00"},
	{Slot6to9, "6:00-9:00"},
	{Slot9to12, "9:00-12:00"},
	{Slot12to15, "12:00-15:00"},
	{Slot15to20, "15:00-20:00"},
	{Slot20to0, "20:00-0:00"},
	{SlotAnytime, "Anytime"},
	{SlotOther, "Other (free text)"},
}

// ParseSlotKey accepts only the fixed enumeration.
func ParseSlotKey(s string) (SlotKey, bool) {
	for _, slot := range Slots {
		if string(slot.Key) == s {
			return slot.Key, true
		}
	}
	return "", false
}

// Order is the position of k in Slots, or len(Slots) for unknown keys.
func (k SlotKey) Order() int {
	for i, slot := range Slots {
		if slot.Key == k {
			return i
		}
	}
	return len(Slots)
}

func (k SlotKey) Label() string {
	for _, slot := range Slots {
		if slot.Key == k {
			return slot.Label
		}
	}
	return string(k)
}

// Entry is one slot registration. A submission that picked two slots is stored
// as two entries sharing ID, the id of the panel message that shows them.
type Entry struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	SlotKey      SlotKey   `json:"slot_key"`
	FreeText     string    `json:"free_text,omitempty"`
	Name         string    `json:"name"`
	ReferrerName string    `json:"referrer_name"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	ChannelID    string    `json:"channel_id"`
	GuildID      string    `json:"guild_id,omitempty"`

	// Shown on the panel; not part of the ledger's rules.
	OwnerDisplayName string `json:"owner_display_name,omitempty"`
	OwnerAvatarURL   string `json:"owner_avatar_url,omitempty"`
}

// Link points back at the panel message the entry is displayed on.
func (e Entry) Link() string {
	guild := e.GuildID
	if guild == "" {
		guild = "@me"
	}
	return "https://discord.com/channels/" + guild + "/" + e.ChannelID + "/" + e.ID
}

// Registration is the validated outcome of the form flow.
type Registration struct {
	GroupID          string
	OwnerID          string
	OwnerDisplayName string
	OwnerAvatarURL   string
	ChannelID        string
	GuildID          string
	Name             string
	Referrer         string
	Slots            []SlotKey
	FreeText         string
}
