package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/hackgods/pms-scheduling/internal/logger"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Contenders   int
	Providers    int
	DaysAhead    int
	PatientLimit int
	BookingRatio float64
	StatusRatio  float64
	ReadRatio    float64
}

// openSlot is a bookable (provider, date, start) triple discovered through the public
// slots endpoint.
type openSlot struct {
	ProviderID int64
	Date       string
	StartTime  string
}

type bookedAppointment struct {
	ID         uuid.UUID
	PatientID  int64
	ProviderID int64
}

type DataPool struct {
	Slots        []openSlot
	mu           sync.RWMutex
	appointments []bookedAppointment
}

func (dp *DataPool) AddAppointment(a bookedAppointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, a)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (bookedAppointment, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedAppointment{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Contention    OperationMetrics
	Booking       OperationMetrics
	Status        OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	Slots         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	log     zerolog.Logger
	pool    *DataPool
	client  *http.Client
	metrics Metrics

	// slots that ended up with more than one successful booking
	violations int64
}

func main() {
	_ = godotenv.Load()
	log := logger.New("dev", getEnv("LOG_LEVEL", "info"), "simulate")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("contenders", cfg.Contenders).
		Float64("booking", cfg.BookingRatio).
		Float64("status", cfg.StatusRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		log:    log,
		pool:   &DataPool{},
		client: &http.Client{Timeout: 10 * time.Second},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := sim.discoverSlots(ctx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("discover slots")
	}
	log.Info().Int("slots", len(sim.pool.Slots)).Msg("open slots discovered")

	sim.RunContention()
	sim.Run()
	sim.PrintReport()

	if sim.violations > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Contenders:   getInt("SIM_CONTENDERS", 50),
		Providers:    getInt("SIM_PROVIDERS", 10),
		DaysAhead:    getInt("SIM_DAYS_AHEAD", 14),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		StatusRatio:  getFloat("SIM_STATUS_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.StatusRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.StatusRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	if cfg.Providers <= 0 {
		return fmt.Errorf("SIM_PROVIDERS must be > 0")
	}
	if cfg.PatientLimit < cfg.Contenders {
		return fmt.Errorf("SIM_PATIENT_LIMIT must be >= SIM_CONTENDERS")
	}
	return nil
}

type slotsResponse struct {
	Slots []struct {
		StartTime string `json:"start_time"`
	} `json:"slots"`
}

// discoverSlots walks the public slots endpoint for every provider over the coming days.
func (s *Simulator) discoverSlots(ctx context.Context) error {
	today := time.Now().UTC()
	for pid := int64(1); pid <= int64(s.config.Providers); pid++ {
		for d := 1; d <= s.config.DaysAhead; d++ {
			date := today.AddDate(0, 0, d).Format("2006-01-02")

			var out slotsResponse
			status, err := s.do(ctx, http.MethodGet,
				fmt.Sprintf("/v1/providers/%d/slots?date=%s", pid, date), "", 0, nil, &out)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("GET slots for provider %d: status %d", pid, status)
			}
			for _, sl := range out.Slots {
				s.pool.Slots = append(s.pool.Slots, openSlot{ProviderID: pid, Date: date, StartTime: sl.StartTime})
			}
		}
	}
	if len(s.pool.Slots) == 0 {
		return fmt.Errorf("no open slots; run the seed first")
	}
	return nil
}

// RunContention fires many concurrent bookings by distinct patients at each of a few
// slots. Exactly one may succeed per slot.
func (s *Simulator) RunContention() {
	targets := s.config.Providers
	if targets > len(s.pool.Slots) {
		targets = len(s.pool.Slots)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	perm := rng.Perm(len(s.pool.Slots))[:targets]

	s.log.Info().Int("slots", targets).Int("contenders", s.config.Contenders).Msg("starting contention phase")

	for _, idx := range perm {
		slot := s.pool.Slots[idx]
		var (
			wg      sync.WaitGroup
			winners int64
			start   = make(chan struct{})
		)
		for i := 0; i < s.config.Contenders; i++ {
			wg.Add(1)
			go func(patientID int64) {
				defer wg.Done()
				<-start
				if s.book(context.Background(), slot, patientID, &s.metrics.Contention) {
					atomic.AddInt64(&winners, 1)
				}
			}(int64(i + 1))
		}
		close(start)
		wg.Wait()

		if winners > 1 {
			atomic.AddInt64(&s.violations, 1)
			s.log.Error().
				Int64("provider_id", slot.ProviderID).
				Str("date", slot.Date).
				Str("start_time", slot.StartTime).
				Int64("winners", winners).
				Msg("slot double booked")
		}
	}
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting mixed load phase")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			if r < s.config.BookingRatio {
				slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
				s.book(ctx, slot, int64(rng.Intn(s.config.PatientLimit)+1), &s.metrics.Booking)
			} else if r < s.config.BookingRatio+s.config.StatusRatio {
				s.doStatus(ctx, rng)
			} else {
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByPatient(ctx, rng)
				case 2:
					s.doSlots(ctx, rng)
				}
			}
		}
	}
}

// do sends one request as the given actor and decodes a JSON body into out when set.
// An empty role sends no actor headers.
func (s *Simulator) do(ctx context.Context, method, path, role string, actorID int64, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set("X-Actor-Role", role)
		req.Header.Set("X-Actor-ID", strconv.FormatInt(actorID, 10))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func (s *Simulator) book(ctx context.Context, slot openSlot, patientID int64, om *OperationMetrics) bool {
	reqBody := map[string]any{
		"patient_id":      patientID,
		"provider_id":     slot.ProviderID,
		"date":            slot.Date,
		"start_time":      slot.StartTime,
		"episode_type":    "consultation",
		"episode_details": "load test booking",
	}

	start := time.Now()
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.do(ctx, http.MethodPost, "/v1/appointments", "patient", patientID, reqBody, &created)
	latency := time.Since(start)

	success := err == nil && status == http.StatusCreated
	conflict := err == nil && status == http.StatusConflict
	if success && created.ID != uuid.Nil {
		s.pool.AddAppointment(bookedAppointment{ID: created.ID, PatientID: patientID, ProviderID: slot.ProviderID})
	}

	om.Record(latency, success, conflict)
	return success
}

// doStatus lets the provider confirm an appointment, or cancel it one time in four.
func (s *Simulator) doStatus(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	to := "confirmed"
	if rng.Intn(4) == 0 {
		to = "cancelled"
	}

	start := time.Now()
	status, err := s.do(ctx, http.MethodPost, fmt.Sprintf("/v1/appointments/%s/status", appt.ID),
		"provider", appt.ProviderID, map[string]string{"status": to}, nil)
	latency := time.Since(start)

	s.metrics.Status.Record(latency, err == nil && status == http.StatusOK, err == nil && status == http.StatusConflict)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/v1/appointments/%s", appt.ID),
		"patient", appt.PatientID, nil, nil)
	latency := time.Since(start)

	s.metrics.ReadByID.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := int64(rng.Intn(s.config.PatientLimit) + 1)

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/v1/patients/%d/appointments?limit=20&offset=0", patientID),
		"patient", patientID, nil, nil)
	latency := time.Since(start)

	s.metrics.ListByPatient.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	status, err := s.do(ctx, http.MethodGet, fmt.Sprintf("/v1/providers/%d/slots?date=%s", slot.ProviderID, slot.Date),
		"", 0, nil, nil)
	latency := time.Since(start)

	s.metrics.Slots.Record(latency, err == nil && status == http.StatusOK, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Double-booked slots: %d\n", atomic.LoadInt64(&s.violations))
	fmt.Println()

	printOperationReport("Contended booking", &s.metrics.Contention)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Status change", &s.metrics.Status)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("Available slots", &s.metrics.Slots)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func repeat(s string, n int) string {
	return strings.Repeat(s, n)
}
