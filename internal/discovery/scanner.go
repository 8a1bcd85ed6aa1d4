// Package discovery locates the Aura module on the local network.
//
// The module does not advertise through any registry reachable from the
// app sandbox, so discovery is a brute-force subnet sweep: an HTTP health
// probe against every host on the /24, bounded to 20 concurrent probes.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/oritocare/companion/internal/core"
	"github.com/oritocare/companion/internal/logging"
	"github.com/oritocare/companion/internal/storage"
)

const (
	// BatchSize bounds concurrent in-flight probes during a sweep.
	BatchSize = 20

	probeTimeout = 2 * time.Second
	subnetHosts  = 254
)

// prioritySuffixes are probed before the exhaustive sweep: router/gateway
// addresses and the static assignments module installs commonly use.
var prioritySuffixes = []int{1, 2, 100, 101, 110, 150, 200, 254, 50, 10}

// healthResponse is the module's /health payload.
type healthResponse struct {
	Service  string `json:"service"`
	Status   string `json:"status"`
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	WSPort   int    `json:"ws_port"`
	HTTPPort int    `json:"http_port"`
	Version  string `json:"version"`
}

// ProgressFunc receives sweep progress as a 0-100 percentage.
type ProgressFunc func(percent int)

// FoundFunc receives each matching module. Multiple matches are possible;
// the caller decides which to use.
type FoundFunc func(desc core.ModuleDescriptor)

// Scanner probes the local subnet for Aura modules.
type Scanner struct {
	expectedService string
	httpPort        int
	slots           *storage.SlotStore
	httpClient      *http.Client
	log             *logging.Logger

	// injectable for tests
	localIP  func() (string, error)
	verifyFn func(ctx context.Context, ip string, port int) (*core.ModuleDescriptor, error)

	mu       sync.Mutex
	scanning bool
}

// Config for the scanner
type Config struct {
	ExpectedService string
	HTTPPort        int
	Slots           *storage.SlotStore
}

// NewScanner creates a scanner
func NewScanner(cfg Config) *Scanner {
	if cfg.ExpectedService == "" {
		cfg.ExpectedService = "AURA_MODULE"
	}

	s := &Scanner{
		expectedService: cfg.ExpectedService,
		httpPort:        cfg.HTTPPort,
		slots:           cfg.Slots,
		httpClient:      &http.Client{Timeout: probeTimeout},
		localIP:         localIPAddress,
		log:             logging.Component("discovery"),
	}
	s.verifyFn = s.VerifyAuraModule
	return s
}

// GetSavedModule returns the last persisted descriptor, or nil.
func (s *Scanner) GetSavedModule() *core.ModuleDescriptor {
	if s.slots == nil {
		return nil
	}
	var desc core.ModuleDescriptor
	if err := s.slots.Get(storage.SlotModuleDescriptor, &desc); err != nil {
		return nil
	}
	if desc.IP == "" {
		return nil
	}
	return &desc
}

// SaveAuraAddress persists the descriptor into the single saved-module
// slot, overwriting any previous one.
func (s *Scanner) SaveAuraAddress(desc core.ModuleDescriptor) error {
	if s.slots == nil {
		return nil
	}
	return s.slots.Put(storage.SlotModuleDescriptor, desc)
}

// VerifyAuraModule probes one host and returns its descriptor when the
// health response identifies itself with the expected service tag.
func (s *Scanner) VerifyAuraModule(ctx context.Context, ip string, port int) (*core.ModuleDescriptor, error) {
	url := fmt.Sprintf("http://%s:%d/health", ip, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", ip, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("probe %s: status %d", ip, resp.StatusCode)
	}

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("probe %s: decode: %w", ip, err)
	}

	if health.Service != s.expectedService {
		return nil, fmt.Errorf("probe %s: service %q is not %q", ip, health.Service, s.expectedService)
	}

	return &core.ModuleDescriptor{
		ServiceID: health.Service,
		Hostname:  health.Hostname,
		IP:        ip,
		WSPort:    health.WSPort,
		HTTPPort:  port,
		Version:   health.Version,
	}, nil
}

// ScanForAuraModule sweeps the local /24 for modules. The saved descriptor
// is re-verified first as a fast path; on a hit the sweep is skipped.
// Only one scan may run at a time.
func (s *Scanner) ScanForAuraModule(ctx context.Context, onProgress ProgressFunc, onFound FoundFunc) error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return core.ErrScanInProgress
	}
	s.scanning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.scanning = false
		s.mu.Unlock()
	}()

	if onProgress == nil {
		onProgress = func(int) {}
	}
	if onFound == nil {
		onFound = func(core.ModuleDescriptor) {}
	}

	// Fast path: the module usually keeps its address between sessions.
	if saved := s.GetSavedModule(); saved != nil {
		if desc, err := s.verifyFn(ctx, saved.IP, saved.HTTPPort); err == nil {
			s.log.Info("saved module re-verified at %s", saved.IP)
			s.SaveAuraAddress(*desc)
			onFound(*desc)
			onProgress(100)
			return nil
		}
		s.log.Debug("saved module at %s no longer responds, sweeping", saved.IP)
	}

	ip, err := s.localIP()
	if err != nil {
		return fmt.Errorf("resolve local address: %w", err)
	}
	prefix, err := subnetPrefix(ip)
	if err != nil {
		return err
	}

	hosts := sweepOrder()
	processed := 0
	found := 0

	for start := 0; start < len(hosts); start += BatchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		end := start + BatchSize
		if end > len(hosts) {
			end = len(hosts)
		}
		batch := hosts[start:end]

		var wg sync.WaitGroup
		results := make([]*core.ModuleDescriptor, len(batch))
		for i, suffix := range batch {
			wg.Add(1)
			go func(i, suffix int) {
				defer wg.Done()
				desc, err := s.verifyFn(ctx, fmt.Sprintf("%s%d", prefix, suffix), s.httpPort)
				if err == nil {
					results[i] = desc
				}
			}(i, suffix)
		}
		wg.Wait()

		for _, desc := range results {
			if desc == nil {
				continue
			}
			found++
			s.log.Info("module found at %s (%s %s)", desc.IP, desc.Hostname, desc.Version)
			s.SaveAuraAddress(*desc)
			onFound(*desc)
		}

		processed += len(batch)
		onProgress(processed * 100 / len(hosts))
	}

	if found == 0 {
		return core.ErrModuleNotFound
	}
	return nil
}

// sweepOrder returns all 254 host suffixes, priority addresses first.
func sweepOrder() []int {
	priority := make(map[int]bool, len(prioritySuffixes))
	order := make([]int, 0, subnetHosts)
	for _, suffix := range prioritySuffixes {
		priority[suffix] = true
		order = append(order, suffix)
	}
	for suffix := 1; suffix <= subnetHosts; suffix++ {
		if !priority[suffix] {
			order = append(order, suffix)
		}
	}
	return order
}

// subnetPrefix turns "192.168.1.23" into "192.168.1.".
func subnetPrefix(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.To4() == nil {
		return "", fmt.Errorf("not an IPv4 address: %q", ip)
	}
	v4 := parsed.To4()
	return fmt.Sprintf("%d.%d.%d.", v4[0], v4[1], v4[2]), nil
}

// localIPAddress finds the device's outbound interface address without
// sending any packets.
func localIPAddress() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("resolve local address: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
