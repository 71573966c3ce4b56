package limits

import (
	"errors"
	"testing"
)

// TestSizeHierarchy verifies that a maximum-size value always fits a packet
// and that packets fit a snapshot buffer.
func TestSizeHierarchy(t *testing.T) {
	if MaxValueSize >= MaxPacketSize {
		t.Errorf("MaxValueSize (%d) must be smaller than MaxPacketSize (%d)", MaxValueSize, MaxPacketSize)
	}
	if MaxPacketSize >= MaxSnapshotSize {
		t.Errorf("MaxPacketSize (%d) must be smaller than MaxSnapshotSize (%d)", MaxPacketSize, MaxSnapshotSize)
	}
}

func TestValidateSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		max     int
		wantErr error
	}{
		{"empty", 0, 10, ErrEmpty},
		{"at limit", 10, 10, nil},
		{"over limit", 11, 10, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSize(make([]byte, tt.size), tt.max)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateSize() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"empty", 0, ErrEmpty},
		{"one byte", 1, nil},
		{"max", MaxValueSize, nil},
		{"too large", MaxValueSize + 1, ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateValue(make([]byte, tt.size))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateValue() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePacket(t *testing.T) {
	if err := ValidatePacket(nil); !errors.Is(err, ErrEmpty) {
		t.Errorf("ValidatePacket(nil) error = %v, want ErrEmpty", err)
	}
	if err := ValidatePacket(make([]byte, MaxPacketSize)); err != nil {
		t.Errorf("ValidatePacket(max) error = %v, want nil", err)
	}
	if err := ValidatePacket(make([]byte, MaxPacketSize+1)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ValidatePacket(max+1) error = %v, want ErrTooLarge", err)
	}
}

func TestValidateSnapshotAllowsEmpty(t *testing.T) {
	if err := ValidateSnapshot(nil); err != nil {
		t.Errorf("ValidateSnapshot(nil) error = %v, want nil", err)
	}
	if err := ValidateSnapshot(make([]byte, MaxSnapshotSize+1)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("ValidateSnapshot(max+1) error = %v, want ErrTooLarge", err)
	}
}
