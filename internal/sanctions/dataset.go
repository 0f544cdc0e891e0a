package sanctions

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Entity is a sanctioned person or organisation.
type Entity struct {
	Name         string   `json:"name"`
	Aliases      []string `json:"aliases,omitempty"`
	Program      string   `json:"program,omitempty"`
	Jurisdiction string   `json:"jurisdiction,omitempty"`
}

func (e Entity) names() []string {
	return append([]string{e.Name}, e.Aliases...)
}

// Dataset is the raw reference material loaded from disk.
type Dataset struct {
	Name                       string   `json:"name"`
	ActiveAddresses            []string `json:"active_addresses"`
	DelistedAddresses          []string `json:"delisted_addresses"`
	ComprehensiveJurisdictions []string `json:"comprehensive_jurisdictions"`
	PartialJurisdictions       []string `json:"partial_jurisdictions"`
	Entities                   []Entity `json:"entities"`
	Mixers                     []string `json:"mixers"`
}

// LoadDataset reads a JSON dataset file.
func LoadDataset(path string) (Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("read dataset: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return Dataset{}, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	if ds.Name == "" {
		ds.Name = path
	}
	return ds, nil
}

// DefaultDataset is a small built-in snapshot used when no dataset file is configured.
func DefaultDataset() Dataset {
	return Dataset{
		Name: "builtin",
		ActiveAddresses: []string{
			"0x098B716B8Aaf21512996dC57EB0615e2383E2f96",
			"0xa0e1c89Ef1a489c9C7dE96311eD5Ce5D32c20E4B",
			"0x3Cffd56B47B7b41c56258D9C7731ABaDc360E073",
			"0x53b6936513e738f44FB50d2b9476730C0Ab3Bfc1",
		},
		DelistedAddresses: []string{
			"0x8589427373D6D84E98730D7795D8f6f8731FDA16",
			"0x722122dF12D4e14e13Ac3b6895a86e84145b6967",
		},
		ComprehensiveJurisdictions: []string{"CU", "IR", "KP", "SY"},
		PartialJurisdictions:       []string{"BY", "MM", "RU", "VE"},
		Entities: []Entity{
			{Name: "Lazarus Group", Aliases: []string{"Hidden Cobra", "APT38"}, Program: "DPRK3", Jurisdiction: "KP"},
			{Name: "Garantex Europe", Aliases: []string{"Garantex"}, Program: "RUSSIA-EO14024", Jurisdiction: "RU"},
			{Name: "Hydra Market", Aliases: []string{"Hydra"}, Program: "CYBER2", Jurisdiction: "RU"},
			{Name: "Blender.io", Program: "CYBER2"},
			{Name: "Sinbad.io", Program: "DPRK3"},
		},
		Mixers: []string{
			"0xd90e2f925DA726b50C4Ed8D0Fb90Ad053324F31b",
			"0x722122dF12D4e14e13Ac3b6895a86e84145b6967",
			"0xD4B88Df4D29F5CedD6857912842cff3b20C8Cfa3",
		},
	}
}

// AddressStatus reports where an address sits in the dataset.
type AddressStatus int

const (
	AddressNotListed AddressStatus = iota
	AddressActive
	AddressDelisted
)

// JurisdictionStatus reports the sanctions regime covering a jurisdiction.
type JurisdictionStatus int

const (
	JurisdictionClear JurisdictionStatus = iota
	JurisdictionComprehensive
	JurisdictionPartial
)

// Index is a read-only lookup structure built once from a Dataset.
type Index struct {
	name          string
	active        map[string]struct{}
	all           map[string]struct{}
	comprehensive map[string]struct{}
	partial       map[string]struct{}
	mixers        map[string]struct{}
	entities      []Entity
}

// NewIndex normalises a dataset for case-insensitive lookups.
func NewIndex(ds Dataset) *Index {
	idx := &Index{
		name:          ds.Name,
		active:        toSet(ds.ActiveAddresses, strings.ToLower),
		all:           toSet(append(append([]string{}, ds.ActiveAddresses...), ds.DelistedAddresses...), strings.ToLower),
		comprehensive: toSet(ds.ComprehensiveJurisdictions, strings.ToUpper),
		partial:       toSet(ds.PartialJurisdictions, strings.ToUpper),
		mixers:        toSet(ds.Mixers, strings.ToLower),
		entities:      append([]Entity(nil), ds.Entities...),
	}
	return idx
}

// Name identifies the dataset in signal metadata.
func (i *Index) Name() string { return i.name }

// Entities exposes the sanctioned entity list.
func (i *Index) Entities() []Entity { return i.entities }

// LookupAddress checks the active list first, then the superset with delisted entries.
func (i *Index) LookupAddress(address string) AddressStatus {
	key := strings.ToLower(strings.TrimSpace(address))
	if _, ok := i.active[key]; ok {
		return AddressActive
	}
	if _, ok := i.all[key]; ok {
		return AddressDelisted
	}
	return AddressNotListed
}

// LookupJurisdiction classifies an ISO country code.
func (i *Index) LookupJurisdiction(code string) JurisdictionStatus {
	key := strings.ToUpper(strings.TrimSpace(code))
	if key == "" {
		return JurisdictionClear
	}
	if _, ok := i.comprehensive[key]; ok {
		return JurisdictionComprehensive
	}
	if _, ok := i.partial[key]; ok {
		return JurisdictionPartial
	}
	return JurisdictionClear
}

// MixerSet returns the lower-cased mixer addresses.
func (i *Index) MixerSet() map[string]struct{} { return i.mixers }

func toSet(values []string, norm func(string) string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[norm(v)] = struct{}{}
	}
	return set
}
