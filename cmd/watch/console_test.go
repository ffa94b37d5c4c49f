package watch

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sidkik/cloudsave/pkg/errors"
	"github.com/sidkik/cloudsave/pkg/notify"
	"github.com/sidkik/cloudsave/pkg/remote"
	"github.com/sidkik/cloudsave/pkg/sync"
)

type mockController struct {
	mock.Mock
}

func (m *mockController) TriggerUpload(ctx context.Context, automatic bool) error {
	return m.Called(automatic).Error(0)
}

func (m *mockController) Restore(ctx context.Context, id remote.BackupID) error {
	return m.Called(id).Error(0)
}

func (m *mockController) RestoreLatest(ctx context.Context) (remote.BackupID, error) {
	ret := m.Called()
	return ret.Get(0).(remote.BackupID), ret.Error(1)
}

func (m *mockController) List(ctx context.Context) ([]remote.BackupID, error) {
	ret := m.Called()
	ids, _ := ret.Get(0).([]remote.BackupID)
	return ids, ret.Error(1)
}

func (m *mockController) Delete(ctx context.Context, id remote.BackupID) error {
	return m.Called(id).Error(0)
}

func (m *mockController) State() sync.State {
	return m.Called().Get(0).(sync.State)
}

func (m *mockController) Paused() bool {
	return m.Called().Bool(0)
}

func (m *mockController) RemainingCooldown() time.Duration {
	return m.Called().Get(0).(time.Duration)
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		mockSetup func(*mockController, *consoleSink)
		expOut    string
		expQuit   bool
	}{
		{
			name: "Empty line",
			line: "   ",
		},
		{
			name:    "Quit",
			line:    "quit",
			expQuit: true,
		},
		{
			name:    "Exit",
			line:    "EXIT",
			expQuit: true,
		},
		{
			name:   "Help",
			line:   "help",
			expOut: helpText + "\n",
		},
		{
			name: "Push",
			line: "push",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("TriggerUpload", false).Return(nil)
			},
		},
		{
			name: "Throttled push",
			line: "push",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("TriggerUpload", false).Return(sync.ThrottledError{Wait: 4 * time.Second})
			},
			expOut: "Error: A backup was uploaded moments ago. Please retry after 4 seconds.\n",
		},
		{
			name: "Failed push is only reported once",
			line: "push",
			mockSetup: func(c *mockController, sink *consoleSink) {
				c.On("TriggerUpload", false).Run(func(mock.Arguments) {
					sink.Notify(notify.Notification{Kind: notify.Error, Message: "Backup failed: boom"})
				}).Return(errors.New("boom"))
			},
			expOut: "Error: Backup failed: boom\n",
		},
		{
			name: "Pull latest",
			line: "pull",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("RestoreLatest").Return(remote.BackupID("2024-01-02_10-00-00"), nil)
			},
		},
		{
			name: "Pull latest without backups",
			line: "pull",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("RestoreLatest").Return(remote.BackupID(""), remote.ErrNoBackups)
			},
			expOut: "Error: " + errors.GetPrintableMessage(remote.ErrNoBackups) + "\n",
		},
		{
			name: "Pull specific backup",
			line: "pull 2024-01-01_09-00-00",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("Restore", remote.BackupID("2024-01-01_09-00-00")).Return(nil)
			},
		},
		{
			name: "List",
			line: "list",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("List").Return([]remote.BackupID{
					"2024-01-02_10-00-00", "2024-01-01_09-00-00"}, nil)
			},
			expOut: "2024-01-02_10-00-00\n2024-01-01_09-00-00\n",
		},
		{
			name: "List without backups",
			line: "list",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("List").Return(nil, nil)
			},
			expOut: "No backups.\n",
		},
		{
			name: "Delete",
			line: "delete 2024-01-01_09-00-00",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("Delete", remote.BackupID("2024-01-01_09-00-00")).Return(nil)
			},
			expOut: "Deleted 2024-01-01_09-00-00.\n",
		},
		{
			name: "Delete not configured",
			line: "delete 2024-01-01_09-00-00",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("Delete", remote.BackupID("2024-01-01_09-00-00")).Return(sync.ErrNotConfigured)
			},
			expOut: "Error: " + errors.GetPrintableMessage(sync.ErrNotConfigured) + "\n",
		},
		{
			name:   "Delete without a backup",
			line:   "delete",
			expOut: "Wrong arguments for `delete`.\n" + helpText + "\n",
		},
		{
			name: "Status",
			line: "status",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("State").Return(sync.Uploading)
				c.On("Paused").Return(false)
				c.On("RemainingCooldown").Return(6400 * time.Millisecond)
			},
			expOut: "State: uploading\nPaused: false\nNext upload allowed: in 6s\n",
		},
		{
			name: "Status without cooldown",
			line: "status",
			mockSetup: func(c *mockController, _ *consoleSink) {
				c.On("State").Return(sync.Restoring)
				c.On("Paused").Return(true)
				c.On("RemainingCooldown").Return(time.Duration(0))
			},
			expOut: "State: restoring\nPaused: true\nNext upload allowed: now\n",
		},
		{
			name:   "Unknown command",
			line:   "sync now",
			expOut: "Unknown command \"sync\". Type `help` to see the available commands.\n",
		},
	}

	for _, test := range tests {
		out := bytes.NewBuffer(nil)
		ctrl := &mockController{}
		sink := &consoleSink{out: out}
		if test.mockSetup != nil {
			test.mockSetup(ctrl, sink)
		}

		quit := newConsole(ctrl, nil, out, sink).handle(context.Background(), test.line)
		assert.Equal(t, test.expQuit, quit, test.name)
		assert.Equal(t, test.expOut, out.String(), test.name)
		ctrl.AssertExpectations(t)
	}
}

func TestRunStopsAtQuit(t *testing.T) {
	out := bytes.NewBuffer(nil)
	ctrl := &mockController{}
	ctrl.On("List").Return([]remote.BackupID{"2024-01-02_10-00-00"}, nil)

	in := strings.NewReader("list\nquit\npush\n")
	newConsole(ctrl, in, out, &consoleSink{out: out}).Run(context.Background())

	assert.Equal(t, "2024-01-02_10-00-00\n", out.String())
	ctrl.AssertExpectations(t)
	ctrl.AssertNotCalled(t, "TriggerUpload", mock.Anything)
}

func TestRunStopsWhenCancelled(t *testing.T) {
	out := bytes.NewBuffer(nil)
	ctrl := &mockController{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	newConsole(ctrl, strings.NewReader("push\n"), out, &consoleSink{out: out}).Run(ctx)

	assert.Empty(t, out.String())
	ctrl.AssertNotCalled(t, "TriggerUpload", mock.Anything)
}

func TestConsoleSink(t *testing.T) {
	out := bytes.NewBuffer(nil)
	sink := &consoleSink{out: out}

	sink.Notify(notify.Notification{Kind: notify.BackupSuccess, Message: "Backed up your save."})
	sink.Notify(notify.Notification{Kind: notify.Error, Message: "Backup failed: offline"})

	assert.Equal(t, "Backed up your save.\nError: Backup failed: offline\n", out.String())
	assert.Equal(t, int64(1), sink.errorCount())
}
