package sampler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/trafficlab/egorecorder/pkg/core"
)

// FieldsPerVehicle is the number of columns written for the reference vehicle
// and for each neighbor slot.
const FieldsPerVehicle = 10

// referenceColumns follow the "Frame" column.
var referenceColumns = []string{
	"Ego Vehicle", "Ego ID", "Location X", "Location Y", "Velocity X", "Velocity Y",
	"Rotation Yaw", "Rotation Pitch", "Rotation Roll", "Ego Lane ID",
}

// SentinelFields is written for every unfilled neighbor slot.
var SentinelFields = []string{
	core.NoneLabel, core.NoneLabel, "0.0", "0.0", "0.0", "0.0", "0.0", "0.0", "0.0", core.NoneLabel,
}

// Width returns the number of columns in a row with k neighbor slots.
func Width(k int) int {
	return 1 + FieldsPerVehicle + FieldsPerVehicle*k
}

// Header returns the dataset header for k neighbor slots.
func Header(k int) []string {
	header := make([]string, 0, Width(k))
	header = append(header, "Frame")
	header = append(header, referenceColumns...)
	for i := 1; i <= k; i++ {
		header = append(header,
			fmt.Sprintf("Vehicle %d", i),
			fmt.Sprintf("Vehicle %d ID", i),
			fmt.Sprintf("Location X %d", i),
			fmt.Sprintf("Location Y %d", i),
			fmt.Sprintf("Velocity X %d", i),
			fmt.Sprintf("Velocity Y %d", i),
			fmt.Sprintf("Rotation Yaw %d", i),
			fmt.Sprintf("Rotation Pitch %d", i),
			fmt.Sprintf("Rotation Roll %d", i),
			fmt.Sprintf("Vehicle %d Lane ID", i),
		)
	}
	return header
}

// VehicleFields flattens one vehicle into its ten dataset columns.
func VehicleFields(v *core.TrackedVehicle) []string {
	if v == nil {
		return SentinelFields
	}
	return []string{
		v.TypeID,
		strconv.Itoa(v.ID),
		FormatFloat(v.Position.X),
		FormatFloat(v.Position.Y),
		FormatFloat(v.Velocity.X),
		FormatFloat(v.Velocity.Y),
		FormatFloat(v.Rotation.Yaw),
		FormatFloat(v.Rotation.Pitch),
		FormatFloat(v.Rotation.Roll),
		v.Lane.String(),
	}
}

// Row flattens a snapshot into one dataset row of Width(len(s.Neighbors)) columns.
func Row(s core.Snapshot) []string {
	row := make([]string, 0, Width(len(s.Neighbors)))
	row = append(row, strconv.FormatUint(s.Frame, 10))
	row = append(row, VehicleFields(&s.Reference)...)
	for _, n := range s.Neighbors {
		row = append(row, VehicleFields(n.Vehicle)...)
	}
	return row
}

// FormatFloat renders a float as the recorded datasets do: shortest
// round-trip representation, always with a decimal point.
func FormatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
