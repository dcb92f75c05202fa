// Command loadtest races many shopper sessions for the same seats against a
// running server and checks that every seat went to at most one session.
//
// Settings come from the environment (a .env file is honoured):
//
//	LOADTEST_BASE_URL  API root, default http://localhost:8080/v1
//	LOADTEST_EVENT_ID  event to lock seats of (required)
//	LOADTEST_SEATS     comma separated seat ids (required)
//	LOADTEST_SESSIONS  concurrent sessions per round, default 50
//	LOADTEST_ROUNDS    rounds to run, default 5
//	LOADTEST_PICK      seats each session asks for, default 2
package main

import (
	"context"
	"math/rand/v2"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/iliyamo/seat-settlement/internal/logging"
	"github.com/iliyamo/seat-settlement/internal/syncclient"
)

type settings struct {
	BaseURL  string
	EventID  string
	Seats    []string
	Sessions int
	Rounds   int
	Pick     int
}

func load() settings {
	_ = godotenv.Load()
	v := viper.New()
	v.SetEnvPrefix("LOADTEST")
	v.AutomaticEnv()
	v.SetDefault("BASE_URL", "http://localhost:8080/v1")
	v.SetDefault("SESSIONS", 50)
	v.SetDefault("ROUNDS", 5)
	v.SetDefault("PICK", 2)

	var seats []string
	for _, s := range strings.Split(v.GetString("SEATS"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			seats = append(seats, s)
		}
	}
	st := settings{
		BaseURL:  v.GetString("BASE_URL"),
		EventID:  v.GetString("EVENT_ID"),
		Seats:    seats,
		Sessions: v.GetInt("SESSIONS"),
		Rounds:   v.GetInt("ROUNDS"),
		Pick:     v.GetInt("PICK"),
	}
	if st.EventID == "" || len(st.Seats) == 0 {
		log.Fatal().Msg("LOADTEST_EVENT_ID and LOADTEST_SEATS are required")
	}
	if st.Pick <= 0 || st.Pick > len(st.Seats) {
		st.Pick = len(st.Seats)
	}
	return st
}

// roundResult maps each seat to the sessions that were granted it.
type roundResult struct {
	winners   map[string][]string
	granted   []*syncclient.Client
	conflicts int
	failures  int
	elapsed   time.Duration
}

func race(ctx context.Context, st settings) roundResult {
	res := roundResult{winners: map[string][]string{}}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < st.Sessions; i++ {
		c := syncclient.NewClient(st.BaseURL, uuid.NewString(), nil)
		want := pick(st.Seats, st.Pick)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			g, err := c.Lock(ctx, st.EventID, want)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.granted = append(res.granted, c)
				for _, id := range g.SeatIDs {
					res.winners[id] = append(res.winners[id], c.SessionID())
				}
			case syncclient.IsConflict(err):
				res.conflicts++
			default:
				res.failures++
				log.Warn().Err(err).Str("session_id", c.SessionID()).Msg("lock request failed")
			}
		}()
	}
	began := time.Now()
	close(start)
	wg.Wait()
	res.elapsed = time.Since(began)
	return res
}

func pick(seats []string, n int) []string {
	out := append([]string(nil), seats...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out[:n]
}

// release frees the round's winnings so the next round starts clean.
func release(ctx context.Context, eventID string, res roundResult) {
	for _, c := range res.granted {
		locks, err := c.ListLocks(ctx, eventID)
		if err != nil {
			log.Warn().Err(err).Str("session_id", c.SessionID()).Msg("list locks failed")
			continue
		}
		ids := make([]string, 0, len(locks.Locks))
		for _, l := range locks.Locks {
			ids = append(ids, l.SeatID)
		}
		if len(ids) == 0 {
			continue
		}
		if _, err := c.Unlock(ctx, eventID, ids); err != nil {
			log.Warn().Err(err).Str("session_id", c.SessionID()).Msg("unlock failed")
		}
	}
}

func main() {
	logging.Setup(os.Getenv("APP_ENV"))
	st := load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	violations := 0
	for round := 1; round <= st.Rounds && ctx.Err() == nil; round++ {
		res := race(ctx, st)

		seats := make([]string, 0, len(res.winners))
		for id := range res.winners {
			seats = append(seats, id)
		}
		sort.Strings(seats)
		for _, id := range seats {
			if holders := res.winners[id]; len(holders) > 1 {
				violations++
				log.Error().Int("round", round).Str("seat_id", id).Strs("sessions", holders).Msg("seat granted to more than one session")
			}
		}
		log.Info().Int("round", round).Int("sessions", st.Sessions).Int("granted", len(res.granted)).
			Int("conflicts", res.conflicts).Int("failures", res.failures).Strs("seats_won", seats).
			Dur("elapsed", res.elapsed).Msg("round finished")

		release(ctx, st.EventID, res)
	}

	if violations > 0 {
		log.Error().Int("violations", violations).Msg("load test failed")
		os.Exit(1)
	}
	log.Info().Msg("load test passed: every seat had at most one winner")
}
