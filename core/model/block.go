package model

// BlockState is the occupancy state of a block.
type BlockState string

const (
	BlockFree       BlockState = "FREE"
	BlockOccupied   BlockState = "OCCUPIED"
	BlockOutbound   BlockState = "OUTBOUND"
	BlockLocked     BlockState = "LOCKED"
	BlockInbound    BlockState = "INBOUND"
	BlockGhost      BlockState = "GHOST"
	BlockOutOfOrder BlockState = "OUT_OF_ORDER"
)

// Valid reports whether s is a known block state.
func (s BlockState) Valid() bool {
	switch s {
	case BlockFree, BlockOccupied, BlockOutbound, BlockLocked, BlockInbound, BlockGhost, BlockOutOfOrder:
		return true
	}
	return false
}

// Block is a track-circuit segment holding at most one locomotive. ID is the
// tile id of the block on the layout.
type Block struct {
	ID           string     `json:"id"`
	Description  string     `json:"description,omitempty"`
	State        BlockState `json:"state"`
	LocomotiveID string     `json:"locomotive_id,omitempty"`
	AlwaysStop   bool       `json:"always_stop"`
	// ArrivalSuffix is the side ("+" or "-") the claiming locomotive enters from.
	ArrivalSuffix  string `json:"arrival_suffix,omitempty"`
	ReverseArrival bool   `json:"reverse_arrival"`
	PlusSensorID   string `json:"plus_sensor_id,omitempty"`
	MinSensorID    string `json:"min_sensor_id,omitempty"`
	// MinWaitTime is the dwell in seconds applied when AlwaysStop is set.
	MinWaitTime int `json:"min_wait_time"`
}

// HasSensor reports whether id is one of the block's boundary sensors.
func (b Block) HasSensor(id string) bool {
	return id != "" && (b.PlusSensorID == id || b.MinSensorID == id)
}

// ArrivalSensors returns the enter and in sensors for a locomotive arriving
// through the given side of the block.
func (b Block) ArrivalSensors(suffix string) (enter, in string) {
	enter, in = b.PlusSensorID, b.MinSensorID
	if suffix == SuffixMinus {
		enter, in = in, enter
	}
	if b.ReverseArrival {
		enter, in = in, enter
	}
	return enter, in
}

// Claimed reports whether the block currently carries a locomotive claim.
func (b Block) Claimed() bool { return b.LocomotiveID != "" }
