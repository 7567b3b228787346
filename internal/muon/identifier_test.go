package muon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifier_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		tech    Technology
		ch      ChamberIndex
		sector  int
		eta     int
		layer   int
		channel int
		phi     bool
	}{
		{"barrel tube", TechMDT, ChBIL, 1, 3, 5, 812, false},
		{"C side", TechMDT, ChBOS, 16, -7, 0, 0, false},
		{"rpc strip", TechRPC, ChBML, 9, -1, 1, 1023, true},
		{"endcap strip", TechTGC, ChEML, 4, 7, 15, 17, true},
		{"pseudo", TechPseudo, ChEOS, 12, 0, 2, 300, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id := NewIdentifier(tt.tech, tt.ch, tt.sector, tt.eta, tt.layer, tt.channel, tt.phi)
			assert.Equal(t, tt.tech, id.Technology())
			assert.Equal(t, tt.ch, id.Chamber())
			assert.Equal(t, tt.sector, id.Sector())
			assert.Equal(t, tt.eta, id.Eta())
			assert.Equal(t, tt.layer, id.Layer())
			assert.Equal(t, tt.channel, id.Channel())
			assert.Equal(t, tt.phi, id.MeasuresPhi())
			assert.Equal(t, tt.ch.Station(), id.Station())
		})
	}
}

func TestIdentifier_ChamberKey(t *testing.T) {
	t.Parallel()

	a := NewIdentifier(TechMDT, ChBML, 5, -2, 0, 10, false)
	b := NewIdentifier(TechRPC, ChBML, 5, -2, 3, 700, true)
	c := NewIdentifier(TechMDT, ChBML, 6, -2, 0, 10, false)

	assert.Equal(t, a.ChamberKey(), b.ChamberKey(), "layer, channel and technology are not part of the chamber")
	assert.NotEqual(t, a.ChamberKey(), c.ChamberKey())

	k := NewChamberKey(ChBML, 5, -2)
	assert.Equal(t, k, a.ChamberKey())
	assert.Equal(t, ChBML, k.Chamber())
	assert.Equal(t, 5, k.Sector())
	assert.Equal(t, -2, k.Eta())
	assert.Equal(t, StationBM, k.Station())
	assert.Equal(t, "BML/s5/e-2", k.String())
}

func TestChamberIndex_Partner(t *testing.T) {
	t.Parallel()

	for c := ChamberIndex(0); int(c) < NumChambers; c++ {
		p := c.Partner()
		if c == ChBEE {
			assert.Equal(t, ChUnknown, p)
			continue
		}
		require.NotEqual(t, ChUnknown, p, "%s has no partner", c)
		assert.Equal(t, c, p.Partner(), "partner of %s is not symmetric", c)
		assert.Equal(t, c.Station(), p.Station())
		assert.NotEqual(t, c.IsSmall(), p.IsSmall())
	}
	assert.Equal(t, ChUnknown, ChUnknown.Partner())
}

func TestParseChamberIndex(t *testing.T) {
	t.Parallel()

	for c := ChamberIndex(0); int(c) < NumChambers; c++ {
		got, err := ParseChamberIndex(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}

	_, err := ParseChamberIndex("Unknown")
	assert.Error(t, err)
	_, err = ParseChamberIndex("bil")
	assert.Error(t, err)
}

func TestParseTechnology(t *testing.T) {
	t.Parallel()

	for _, tech := range []Technology{TechMDT, TechCSC, TechRPC, TechTGC, TechSTGC, TechMM, TechPseudo} {
		got, err := ParseTechnology(tech.String())
		require.NoError(t, err)
		assert.Equal(t, tech, got)
	}
	_, err := ParseTechnology("DriftTube")
	assert.Error(t, err)
	assert.True(t, TechRPC.IsTrigger())
	assert.False(t, TechMDT.IsTrigger())
}

func TestStationSet(t *testing.T) {
	t.Parallel()

	var s StationSet
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Stations())

	s = s.Add(StationBO).Add(StationBI).Add(StationBO)
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has(StationBI))
	assert.False(t, s.Has(StationBM))
	assert.Equal(t, []StationIndex{StationBI, StationBO}, s.Stations())

	u := s.Union(StationSet(0).Add(StationEM))
	assert.Equal(t, 3, u.Len())
	assert.Equal(t, 2, s.Len(), "union must not modify the receiver")

	assert.True(t, StationEI.IsEndcap())
	assert.True(t, StationCS.IsEndcap())
	assert.False(t, StationBE.IsEndcap())
}
