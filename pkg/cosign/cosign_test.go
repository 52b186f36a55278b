package cosign

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpState(t *testing.T) {
	tests := []struct {
		name     string
		dump     Dump
		expected SignatureState
	}{
		{
			name:     "no header",
			dump:     Dump{HasHeader: false},
			expected: Unsigned,
		},
		{
			name:     "slot 2 empty",
			dump:     Dump{HasHeader: true, Slot2Zero: true},
			expected: PartiallySigned,
		},
		{
			// Rule order matters: an empty slot 2 wins over an empty slot 1,
			// matching how the dump output has always been classified.
			name:     "both slots empty",
			dump:     Dump{HasHeader: true, Slot1Zero: true, Slot2Zero: true},
			expected: PartiallySigned,
		},
		{
			name:     "slot 1 empty but slot 2 filled",
			dump:     Dump{HasHeader: true, Slot1Zero: true},
			expected: HeaderCorrupt,
		},
		{
			name:     "both slots filled",
			dump:     Dump{HasHeader: true},
			expected: FullySigned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dump.State())
		})
	}
}

const zeros64 = "0000000000000000000000000000000000000000000000000000000000000000"

func TestParseDump(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected SignatureState
		slots    int
	}{
		{
			name: "one signature",
			output: "header version: 1\n" +
				"signature1: feedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface key: dev-key-1\n" +
				"signature2: " + zeros64 + "\n",
			expected: PartiallySigned,
			slots:    2,
		},
		{
			name: "two signatures",
			output: "header version: 1\n" +
				"signature1: feedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedfacefeedface key: dev-key-1\n" +
				"signature2: cafef00dcafef00dcafef00dcafef00dcafef00dcafef00dcafef00dcafef00d key: dev-key-2\n",
			expected: FullySigned,
			slots:    2,
		},
		{
			name: "slot order violated",
			output: "header version: 1\n" +
				"signature1: " + zeros64 + "\n" +
				"signature2: cafef00dcafef00dcafef00dcafef00dcafef00dcafef00dcafef00dcafef00d key: dev-key-2\n",
			expected: HeaderCorrupt,
			slots:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := parseDump(tt.output)
			assert.True(t, d.HasHeader)
			assert.Equal(t, tt.expected, d.State())
			assert.Len(t, d.Slots, tt.slots)
		})
	}
}

func TestFakeOracleTransitions(t *testing.T) {
	ctx := context.Background()
	oracle := NewFakeOracle()

	// Unsigned -> PartiallySigned -> FullySigned, then the tool refuses.
	d, err := oracle.Dump(ctx, "app.bin")
	require.NoError(t, err)
	assert.Equal(t, Unsigned, d.State())

	require.NoError(t, oracle.Sign(ctx, "app.bin", Signer{}))
	d, _ = oracle.Dump(ctx, "app.bin")
	assert.Equal(t, PartiallySigned, d.State())

	require.NoError(t, oracle.Sign(ctx, "app.bin", Signer{}))
	d, _ = oracle.Dump(ctx, "app.bin")
	assert.Equal(t, FullySigned, d.State())

	err = oracle.Sign(ctx, "app.bin", Signer{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already filled"))
	assert.Equal(t, []string{"app.bin", "app.bin", "app.bin"}, oracle.SignCalls)
}

func TestFakeOracleCorruptHeader(t *testing.T) {
	ctx := context.Background()
	oracle := NewFakeOracle()
	oracle.SetState("recovery.bin", HeaderCorrupt)

	d, err := oracle.Dump(ctx, "recovery.bin")
	require.NoError(t, err)
	assert.Equal(t, HeaderCorrupt, d.State())

	require.Error(t, oracle.Sign(ctx, "recovery.bin", Signer{}))
}
