package main

import (
	"context"
	"errors"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/pms-scheduling/internal/app"
	"github.com/hackgods/pms-scheduling/internal/appointment"
	"github.com/hackgods/pms-scheduling/internal/config"
	"github.com/hackgods/pms-scheduling/internal/logger"
	"github.com/hackgods/pms-scheduling/internal/schedule"
)

const (
	providerCount     = 50
	bookingsPerDoctor = 20
	patientPool       = 9000
)

var zones = []string{
	"UTC",
	"America/New_York",
	"America/Chicago",
	"Europe/London",
	"Asia/Kolkata",
}

var complaints = []string{
	"persistent headache for three days",
	"follow-up on blood pressure",
	"skin rash on forearm",
	"knee pain after running",
	"annual physical",
	"medication review",
	"sore throat and fever",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("dev", "info", "seed")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(cfg.Env, cfg.LogLevel, "seed")
	log.Info().Msg("seed starting")

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedAvailability(ctx, log, a.Service, providerCount); err != nil {
		log.Fatal().Err(err).Msg("seed availability")
	}
	if _, err := a.Service.MaterializeHorizon(ctx); err != nil {
		log.Fatal().Err(err).Msg("materialize horizon")
	}
	if err := seedBookings(ctx, log, a.Service, providerCount, bookingsPerDoctor); err != nil {
		log.Fatal().Err(err).Msg("seed bookings")
	}

	log.Info().Msg("seed complete")
}

// seedAvailability gives every provider a weekday schedule with a lunch gap, an optional
// Saturday clinic and one blocked day in the coming fortnight.
func seedAvailability(ctx context.Context, log zerolog.Logger, svc *appointment.Service, count int) error {
	log.Info().Int("providers", count).Msg("seeding availability")

	for id := int64(1); id <= int64(count); id++ {
		open := schedule.TimeOfDay(gofakeit.Number(7, 10) * 60)
		lunch := open + schedule.TimeOfDay(gofakeit.Number(3, 4)*60)
		closeAt := lunch + schedule.TimeOfDay(gofakeit.Number(3, 5)*60)

		req := appointment.AvailabilityRequest{TimeZone: zones[gofakeit.Number(0, len(zones)-1)]}
		for day := time.Monday; day <= time.Friday; day++ {
			req.Weekly = append(req.Weekly,
				schedule.Weekly(id, day, open, lunch),
				schedule.Weekly(id, day, lunch+60, closeAt),
			)
		}
		if gofakeit.Bool() {
			req.Weekly = append(req.Weekly, schedule.Weekly(id, time.Saturday, 9*60, 12*60))
		}

		today := svc.Today()
		req.BlockDays = append(req.BlockDays, appointment.BlockDay{Date: today.AddDays(gofakeit.Number(2, 14))})

		actor := appointment.Actor{ID: id, Role: appointment.RoleProvider}
		if _, err := svc.ReplaceAvailability(ctx, actor, id, req); err != nil {
			return err
		}
	}

	log.Info().Msg("availability seeded")
	return nil
}

// seedBookings books random open slots for random patients. Conflicts are expected when
// two picks land on the same slot and are skipped.
func seedBookings(ctx context.Context, log zerolog.Logger, svc *appointment.Service, providers, perProvider int) error {
	log.Info().Int("per_provider", perProvider).Msg("seeding bookings")

	booked, skipped := 0, 0
	for id := int64(1); id <= int64(providers); id++ {
		for i := 0; i < perProvider; i++ {
			date := svc.Today().AddDays(gofakeit.Number(1, 21))
			slots, err := svc.AvailableSlots(ctx, id, date)
			if err != nil {
				return err
			}
			if len(slots) == 0 {
				skipped++
				continue
			}
			slot := slots[gofakeit.Number(0, len(slots)-1)]

			patientID := int64(gofakeit.Number(1, patientPool))
			_, err = svc.Book(ctx, appointment.Actor{ID: patientID, Role: appointment.RolePatient}, appointment.BookingRequest{
				PatientID:      patientID,
				ProviderID:     id,
				Date:           date,
				StartTime:      slot.StartTime,
				EpisodeType:    appointment.EpisodeConsultation,
				EpisodeDetails: complaints[gofakeit.Number(0, len(complaints)-1)],
			})
			switch {
			case err == nil:
				booked++
			case errors.Is(err, appointment.ErrSlotAlreadyBooked), errors.Is(err, appointment.ErrSlotUnavailable):
				skipped++
			default:
				return err
			}
		}
		log.Debug().Int64("provider_id", id).Int("booked", booked).Msg("provider seeded")
	}

	log.Info().Int("booked", booked).Int("skipped", skipped).Msg("bookings seeded")
	return nil
}
