package muon

import "fmt"

// Technology is the detector technology that produced a measurement.
type Technology uint8

const (
	TechMDT Technology = iota
	TechCSC
	TechRPC
	TechTGC
	TechSTGC
	TechMM
	TechPseudo
)

var technologyNames = [...]string{"MDT", "CSC", "RPC", "TGC", "sTGC", "MM", "Pseudo"}

func (t Technology) String() string {
	if int(t) < len(technologyNames) {
		return technologyNames[t]
	}
	return fmt.Sprintf("Technology(%d)", t)
}

// ParseTechnology returns the technology with the given name.
func ParseTechnology(name string) (Technology, error) {
	for i, n := range technologyNames {
		if n == name {
			return Technology(i), nil
		}
	}
	return 0, fmt.Errorf("unknown technology %q", name)
}

// IsTrigger reports whether the technology is a trigger chamber (RPC/TGC).
func (t Technology) IsTrigger() bool { return t == TechRPC || t == TechTGC }

// StationIndex groups chambers into measurement stations along the muon path.
type StationIndex uint8

const (
	StationBI StationIndex = iota
	StationBM
	StationBO
	StationBE
	StationEI
	StationEM
	StationEO
	StationEE
	StationCS
	StationUnknown
)

var stationNames = [...]string{"BI", "BM", "BO", "BE", "EI", "EM", "EO", "EE", "CS", "Unknown"}

func (s StationIndex) String() string {
	if int(s) < len(stationNames) {
		return stationNames[s]
	}
	return fmt.Sprintf("Station(%d)", s)
}

// IsEndcap reports whether the station sits in an endcap.
func (s StationIndex) IsEndcap() bool { return s >= StationEI && s <= StationCS }

// ChamberIndex is the small/large resolved chamber type.
type ChamberIndex uint8

const (
	ChBIS ChamberIndex = iota
	ChBIL
	ChBMS
	ChBML
	ChBOS
	ChBOL
	ChBEE
	ChEIS
	ChEIL
	ChEMS
	ChEML
	ChEOS
	ChEOL
	ChEES
	ChEEL
	ChCSS
	ChCSL
	ChUnknown
	// NumChambers is the number of valid chamber indices.
	NumChambers = int(ChUnknown)
)

var chamberNames = [...]string{
	"BIS", "BIL", "BMS", "BML", "BOS", "BOL", "BEE",
	"EIS", "EIL", "EMS", "EML", "EOS", "EOL", "EES", "EEL",
	"CSS", "CSL", "Unknown",
}

var chamberStation = [...]StationIndex{
	StationBI, StationBI, StationBM, StationBM, StationBO, StationBO, StationBE,
	StationEI, StationEI, StationEM, StationEM, StationEO, StationEO, StationEE, StationEE,
	StationCS, StationCS, StationUnknown,
}

func (c ChamberIndex) String() string {
	if int(c) < len(chamberNames) {
		return chamberNames[c]
	}
	return fmt.Sprintf("Chamber(%d)", c)
}

// Station returns the station the chamber belongs to.
func (c ChamberIndex) Station() StationIndex {
	if int(c) < len(chamberStation) {
		return chamberStation[c]
	}
	return StationUnknown
}

// IsSmall reports whether the chamber is the small variant of its station.
// BEE has no small/large split and reports false.
func (c ChamberIndex) IsSmall() bool {
	switch c {
	case ChBIS, ChBMS, ChBOS, ChEIS, ChEMS, ChEOS, ChEES, ChCSS:
		return true
	}
	return false
}

// Partner returns the other small/large variant of the same station, or
// ChUnknown when the station has no split.
func (c ChamberIndex) Partner() ChamberIndex {
	switch c {
	case ChBEE, ChUnknown:
		return ChUnknown
	}
	if c.IsSmall() {
		return c + 1
	}
	return c - 1
}

// ParseChamberIndex converts a chamber name such as "BIL" into its index.
func ParseChamberIndex(name string) (ChamberIndex, error) {
	for i, n := range chamberNames[:NumChambers] {
		if n == name {
			return ChamberIndex(i), nil
		}
	}
	return ChUnknown, fmt.Errorf("unknown chamber index %q", name)
}

// Identifier is a packed 32-bit measurement identifier.
//
// Layout (msb to lsb): tech:3 chamber:5 sector:5 eta:4 layer:4 channel:10 phi:1.
// Eta is stored with an offset of 8 so that negative (C side) indices fit.
type Identifier uint32

const (
	idPhiBits     = 1
	idChannelBits = 10
	idLayerBits   = 4
	idEtaBits     = 4
	idSectorBits  = 5
	idChamberBits = 5

	idChannelShift = idPhiBits
	idLayerShift   = idChannelShift + idChannelBits
	idEtaShift     = idLayerShift + idLayerBits
	idSectorShift  = idEtaShift + idEtaBits
	idChamberShift = idSectorShift + idSectorBits
	idTechShift    = idChamberShift + idChamberBits

	idEtaOffset = 8
)

func mask(bits uint) uint32 { return (1 << bits) - 1 }

// NewIdentifier packs the fields of a measurement identifier. Out-of-range
// fields are truncated to their bit width.
func NewIdentifier(tech Technology, ch ChamberIndex, sector, eta, layer, channel int, measuresPhi bool) Identifier {
	var v uint32
	v |= (uint32(tech) & mask(3)) << idTechShift
	v |= (uint32(ch) & mask(idChamberBits)) << idChamberShift
	v |= (uint32(sector) & mask(idSectorBits)) << idSectorShift
	v |= (uint32(eta+idEtaOffset) & mask(idEtaBits)) << idEtaShift
	v |= (uint32(layer) & mask(idLayerBits)) << idLayerShift
	v |= (uint32(channel) & mask(idChannelBits)) << idChannelShift
	if measuresPhi {
		v |= 1
	}
	return Identifier(v)
}

func (id Identifier) Technology() Technology {
	return Technology((uint32(id) >> idTechShift) & mask(3))
}

func (id Identifier) Chamber() ChamberIndex {
	return ChamberIndex((uint32(id) >> idChamberShift) & mask(idChamberBits))
}

func (id Identifier) Sector() int { return int((uint32(id) >> idSectorShift) & mask(idSectorBits)) }
func (id Identifier) Eta() int {
	return int((uint32(id)>>idEtaShift)&mask(idEtaBits)) - idEtaOffset
}
func (id Identifier) Layer() int   { return int((uint32(id) >> idLayerShift) & mask(idLayerBits)) }
func (id Identifier) Channel() int { return int((uint32(id) >> idChannelShift) & mask(idChannelBits)) }

// MeasuresPhi reports whether the identifier belongs to a phi strip.
func (id Identifier) MeasuresPhi() bool { return uint32(id)&1 == 1 }

// Station is a shorthand for id.Chamber().Station().
func (id Identifier) Station() StationIndex { return id.Chamber().Station() }

// ChamberKey returns the identifier of the chamber that holds the
// measurement: technology, layer, channel and phi bits cleared.
func (id Identifier) ChamberKey() ChamberKey {
	keep := (mask(idChamberBits) << idChamberShift) |
		(mask(idSectorBits) << idSectorShift) |
		(mask(idEtaBits) << idEtaShift)
	return ChamberKey(uint32(id) & keep)
}

func (id Identifier) String() string {
	view := "eta"
	if id.MeasuresPhi() {
		view = "phi"
	}
	return fmt.Sprintf("%s/%s/s%d/e%d/l%d/c%d/%s",
		id.Technology(), id.Chamber(), id.Sector(), id.Eta(), id.Layer(), id.Channel(), view)
}

// NumSectors is the number of azimuthal sectors, numbered from 1.
const NumSectors = 16

// ChamberKey identifies one physical chamber (chamber index, sector, eta).
type ChamberKey uint32

// NewChamberKey builds the key of a physical chamber.
func NewChamberKey(ch ChamberIndex, sector, eta int) ChamberKey {
	return NewIdentifier(0, ch, sector, eta, 0, 0, false).ChamberKey()
}

func (k ChamberKey) Chamber() ChamberIndex { return Identifier(k).Chamber() }
func (k ChamberKey) Sector() int           { return Identifier(k).Sector() }
func (k ChamberKey) Eta() int              { return Identifier(k).Eta() }
func (k ChamberKey) Station() StationIndex { return k.Chamber().Station() }

func (k ChamberKey) String() string {
	return fmt.Sprintf("%s/s%d/e%d", k.Chamber(), k.Sector(), k.Eta())
}

// StationSet is a bit set of stations.
type StationSet uint16

// Add returns the set with s included.
func (s StationSet) Add(st StationIndex) StationSet { return s | 1<<st }

// Has reports whether st is in the set.
func (s StationSet) Has(st StationIndex) bool { return s&(1<<st) != 0 }

// Union returns the union of two sets.
func (s StationSet) Union(o StationSet) StationSet { return s | o }

// Len returns the number of stations in the set.
func (s StationSet) Len() int {
	n := 0
	for v := s; v != 0; v &= v - 1 {
		n++
	}
	return n
}

// Stations lists the stations in index order.
func (s StationSet) Stations() []StationIndex {
	var out []StationIndex
	for st := StationBI; st < StationUnknown; st++ {
		if s.Has(st) {
			out = append(out, st)
		}
	}
	return out
}
