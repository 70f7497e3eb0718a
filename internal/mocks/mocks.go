// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/vacbot/internal/browser"
	"github.com/xkilldash9x/vacbot/internal/config"
	"github.com/xkilldash9x/vacbot/internal/notify"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

var _ config.Interface = (*MockConfig)(nil)

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Site() config.SiteConfig {
	args := m.Called()
	return args.Get(0).(config.SiteConfig)
}

func (m *MockConfig) API() config.APIConfig {
	args := m.Called()
	return args.Get(0).(config.APIConfig)
}

func (m *MockConfig) Poller() config.PollerConfig {
	args := m.Called()
	return args.Get(0).(config.PollerConfig)
}

func (m *MockConfig) Controller() config.ControllerConfig {
	args := m.Called()
	return args.Get(0).(config.ControllerConfig)
}

func (m *MockConfig) Booking() config.BookingConfig {
	args := m.Called()
	return args.Get(0).(config.BookingConfig)
}

func (m *MockConfig) Notify() config.NotifyConfig {
	args := m.Called()
	return args.Get(0).(config.NotifyConfig)
}

func (m *MockConfig) Run() config.RunConfig {
	args := m.Called()
	return args.Get(0).(config.RunConfig)
}

// --- Setters ---

func (m *MockConfig) SetRunConfig(rc config.RunConfig) { m.Called(rc) }

func (m *MockConfig) SetBrowserHeadless(b bool) { m.Called(b) }

func (m *MockConfig) SetBrowserDefaultTimeout(d time.Duration) { m.Called(d) }

func (m *MockConfig) SetPollerDistrictID(id int) { m.Called(id) }

// -- Browser Mocks --

// MockSurface implements browser.Surface for testing. Evaluate receives the
// variadic arguments as a single []interface{}; use Run to populate res.
type MockSurface struct {
	mock.Mock
}

var _ browser.Surface = (*MockSurface)(nil)

func (m *MockSurface) ID() string                      { return m.Called().String(0) }
func (m *MockSurface) Close(ctx context.Context) error { return m.Called(ctx).Error(0) }

func (m *MockSurface) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockSurface) Locate(ctx context.Context, selector string) (browser.Element, error) {
	args := m.Called(ctx, selector)
	return args.Get(0).(browser.Element), args.Error(1)
}

func (m *MockSurface) Type(ctx context.Context, el browser.Element, text string) error {
	return m.Called(ctx, el, text).Error(0)
}

func (m *MockSurface) Click(ctx context.Context, el browser.Element) error {
	return m.Called(ctx, el).Error(0)
}

func (m *MockSurface) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (browser.Element, error) {
	args := m.Called(ctx, selector, timeout)
	return args.Get(0).(browser.Element), args.Error(1)
}

func (m *MockSurface) WaitForCondition(ctx context.Context, predicate string, timeout time.Duration, scriptArgs ...interface{}) error {
	return m.Called(ctx, predicate, timeout, scriptArgs).Error(0)
}

func (m *MockSurface) Evaluate(ctx context.Context, fn string, res interface{}, scriptArgs ...interface{}) error {
	return m.Called(ctx, fn, res, scriptArgs).Error(0)
}

// MockLauncher implements browser.Launcher for testing.
type MockLauncher struct {
	mock.Mock
}

var _ browser.Launcher = (*MockLauncher)(nil)

func (m *MockLauncher) Launch(ctx context.Context) (browser.Surface, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(browser.Surface), args.Error(1)
}

// -- Notifier Mock --

// MockNotifier implements notify.Notifier for testing.
type MockNotifier struct {
	mock.Mock
}

var _ notify.Notifier = (*MockNotifier)(nil)

func (m *MockNotifier) Notify(ctx context.Context, ev notify.Event) error {
	return m.Called(ctx, ev).Error(0)
}
