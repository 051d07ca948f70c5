package vin

import (
	"fmt"
	"strings"
)

// Decoded holds the attributes derivable from identifier structure alone.
type Decoded struct {
	WMI       string // world manufacturer identifier (positions 1-3)
	Make      string // empty when the WMI is not in the table
	ModelYear int    // zero when the year code is unassigned
}

// Year codes cycle every 30 years; this table covers 1980–2009 and repeats
// for 2010–2039. Position 7 disambiguates: a digit there means pre-2010.
var yearCodes = map[byte]int{
	'A': 1980, 'B': 1981, 'C': 1982, 'D': 1983, 'E': 1984, 'F': 1985,
	'G': 1986, 'H': 1987, 'J': 1988, 'K': 1989, 'L': 1990, 'M': 1991,
	'N': 1992, 'P': 1993, 'R': 1994, 'S': 1995, 'T': 1996, 'V': 1997,
	'W': 1998, 'X': 1999, 'Y': 2000,
	'1': 2001, '2': 2002, '3': 2003, '4': 2004, '5': 2005,
	'6': 2006, '7': 2007, '8': 2008, '9': 2009,
}

var wmiMakes = map[string]string{
	"1HG": "Honda", "2HG": "Honda", "JHM": "Honda",
	"1FA": "Ford", "1FT": "Ford", "1FM": "Ford",
	"1G1": "Chevrolet", "1GC": "Chevrolet", "2G1": "Chevrolet",
	"1C3": "Chrysler", "1C4": "Jeep", "1C6": "Ram",
	"JT2": "Toyota", "JTD": "Toyota", "4T1": "Toyota", "5TD": "Toyota",
	"JN1": "Nissan", "1N4": "Nissan",
	"WBA": "BMW", "WBS": "BMW", "5UX": "BMW",
	"WDB": "Mercedes-Benz", "WDD": "Mercedes-Benz", "4JG": "Mercedes-Benz",
	"WP0": "Porsche", "WP1": "Porsche",
	"WVW": "Volkswagen", "3VW": "Volkswagen",
	"WAU": "Audi", "TRU": "Audi",
	"ZFF": "Ferrari", "ZHW": "Lamborghini",
	"SCF": "Aston Martin", "SAJ": "Jaguar", "SAL": "Land Rover",
	"YV1": "Volvo", "JM1": "Mazda", "KMH": "Hyundai", "KNA": "Kia",
	"JF1": "Subaru", "JA3": "Mitsubishi",
}

// Decode extracts make and model year from a full identifier. The input
// must already have passed Normalize; Decode returns an error otherwise.
func Decode(id string) (*Decoded, error) {
	normalized, err := Normalize(id)
	if err != nil {
		return nil, err
	}

	d := &Decoded{WMI: normalized[:3]}
	d.Make = wmiMakes[d.WMI]

	yearCode := normalized[9]
	if base, ok := yearCodes[yearCode]; ok {
		d.ModelYear = base
		// Letter year codes repeat in 2010+; position 7 being a letter
		// indicates the later cycle.
		if yearCode >= 'A' && yearCode <= 'Z' {
			if p7 := normalized[6]; p7 < '0' || p7 > '9' {
				d.ModelYear = base + 30
			}
		}
	}

	return d, nil
}

// Fields returns the decoded attributes as ledger field/value pairs.
func (d *Decoded) Fields() map[string]string {
	out := make(map[string]string, 2)
	if d.Make != "" {
		out["make"] = d.Make
	}
	if d.ModelYear != 0 {
		out["year"] = fmt.Sprintf("%d", d.ModelYear)
	}
	return out
}

// String implements fmt.Stringer for log output.
func (d *Decoded) String() string {
	parts := []string{d.WMI}
	if d.Make != "" {
		parts = append(parts, d.Make)
	}
	if d.ModelYear != 0 {
		parts = append(parts, fmt.Sprintf("%d", d.ModelYear))
	}
	return strings.Join(parts, " ")
}
