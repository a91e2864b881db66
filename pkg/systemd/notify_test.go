package systemd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	logx "taskloop/pkg/logx"
)

func TestNotifierSendsOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	var sent []string
	fake := func(state string) (bool, error) {
		sent = append(sent, state)
		return true, nil
	}

	off := NewNotifier(false, logx.Nop())
	off.send = fake
	off.Ready()
	assert.Empty(t, sent)
	assert.Zero(t, off.WatchdogInterval())

	on := NewNotifier(true, logx.Nop())
	on.send = fake
	on.Ready()
	on.Status("3 tasks")
	on.Watchdog()
	on.Stopping()
	assert.Equal(t, []string{"READY=1", "STATUS=3 tasks", "WATCHDOG=1", "STOPPING=1"}, sent)
}

func TestNotifierLogsFailures(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	n := NewNotifier(true, logx.NewJSON(&buf, "warn"))
	n.send = func(string) (bool, error) { return false, errors.New("socket gone") }
	n.Ready()
	assert.Contains(t, buf.String(), "socket gone")
}

func TestUnitName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "nginx.service", unitName("nginx"))
	assert.Equal(t, "nginx.service", unitName("nginx.service"))
	assert.Equal(t, "backup.timer", unitName("backup.timer"))
}

func TestUnitStateFromProps(t *testing.T) {
	t.Parallel()
	props := map[string]any{"ActiveState": "active", "StateChangeTimestamp": uint64(1_700_000_000_000_000)}
	assert.Equal(t, "active", getString(props, "ActiveState"))
	assert.Equal(t, "", getString(props, "SubState"))
	assert.Equal(t, int64(1_700_000_000), getTimestamp(props, "StateChangeTimestamp").Unix())
	assert.True(t, getTimestamp(props, "Missing").IsZero())
	assert.True(t, UnitState{Active: "active"}.Running())
}
