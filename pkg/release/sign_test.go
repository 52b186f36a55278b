package release_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Foundation-Devices/KeyOS-Releases/pkg/cosign"
	"github.com/Foundation-Devices/KeyOS-Releases/pkg/release"
)

var testSigner = cosign.Signer{ConfigPath: "/home/signer/cosign2.toml", FirmwareVersion: "1.0.2"}

// One signing session advances every artifact by exactly one state, in set
// order. Two sessions bring the whole set to quorum.
func TestSignFilesTwoSessionsReachQuorum(t *testing.T) {
	fsys := newTestStore(t, map[string][]byte{"apps/gui-app-a.elf": []byte("a")})
	set := openTestSet(t, fsys)
	oracle := cosign.NewFakeOracle()

	require.NoError(t, release.SignFiles(context.Background(), oracle, set, testSigner, release.Progress{}))
	assert.Equal(t, []string{
		set.OraclePath("recovery.bin"),
		set.OraclePath("app.bin"),
		set.OraclePath("apps/gui-app-a.elf"),
	}, oracle.SignCalls)

	report, err := release.CheckSetQuorum(context.Background(), oracle, set)
	require.NoError(t, err)
	for _, s := range report.States {
		assert.Equal(t, cosign.PartiallySigned, s.State, s.Name)
	}

	require.NoError(t, release.SignFiles(context.Background(), oracle, set, testSigner, release.Progress{}))
	report, err = release.CheckSetQuorum(context.Background(), oracle, set)
	require.NoError(t, err)
	assert.True(t, report.AllQuorate())
}

// A mixed set is fine: each file independently advances from wherever it is.
// Order of the two signing sessions does not matter per file.
func TestSignFilesMixedStates(t *testing.T) {
	set := openTestSet(t, newTestStore(t, nil))
	oracle := cosign.NewFakeOracle()
	oracle.SetState(set.OraclePath("recovery.bin"), cosign.PartiallySigned)

	require.NoError(t, release.SignFiles(context.Background(), oracle, set, testSigner, release.Progress{}))

	report, err := release.CheckSetQuorum(context.Background(), oracle, set)
	require.NoError(t, err)
	assert.Equal(t, cosign.FullySigned, report.States[0].State)
	assert.Equal(t, cosign.PartiallySigned, report.States[1].State)
}

func TestSignFilesReportsProgress(t *testing.T) {
	set := openTestSet(t, newTestStore(t, nil))
	oracle := cosign.NewFakeOracle()

	var started, done []string
	progress := release.Progress{
		Start: func(name string) { started = append(started, name) },
		Done:  func(name string) { done = append(done, name) },
	}
	require.NoError(t, release.SignFiles(context.Background(), oracle, set, testSigner, progress))
	assert.Equal(t, []string{"recovery.bin", "app.bin"}, started)
	assert.Equal(t, started, done)
}

// The first failing file aborts the session; files after it are untouched.
func TestSignFilesAbortsOnFailure(t *testing.T) {
	set := openTestSet(t, newTestStore(t, nil))
	oracle := cosign.NewFakeOracle()
	oracle.SetState(set.OraclePath("recovery.bin"), cosign.FullySigned)

	err := release.SignFiles(context.Background(), oracle, set, testSigner, release.Progress{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recovery.bin")
	// Only the failed file was attempted.
	assert.Equal(t, []string{set.OraclePath("recovery.bin")}, oracle.SignCalls)
}

// A file whose signing fails because slot 1 is empty while slot 2 is filled
// is reported as corrupt so the operator rebuilds it instead of re-signing.
func TestSignFilesClassifiesCorruptHeader(t *testing.T) {
	set := openTestSet(t, newTestStore(t, nil))
	oracle := cosign.NewFakeOracle()
	oracle.SetState(set.OraclePath("app.bin"), cosign.HeaderCorrupt)

	err := release.SignFiles(context.Background(), oracle, set, testSigner, release.Progress{})
	assert.ErrorIs(t, err, release.ErrCorruptSignatureHeader)
	assert.Contains(t, err.Error(), "app.bin")

	// The corrupt file was not advanced.
	state, _, err := release.CheckQuorum(context.Background(), oracle, set.OraclePath("app.bin"))
	require.NoError(t, err)
	assert.Equal(t, cosign.HeaderCorrupt, state)
}

func TestSignFilesSignError(t *testing.T) {
	set := openTestSet(t, newTestStore(t, nil))
	oracle := cosign.NewFakeOracle()
	oracle.SignErr = errors.New("cosign2 sign failed: hsm not connected")

	err := release.SignFiles(context.Background(), oracle, set, testSigner, release.Progress{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, release.ErrCorruptSignatureHeader)
}
