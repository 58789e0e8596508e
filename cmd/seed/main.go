package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/vetclinic-core/internal/app"
	"github.com/hackgods/vetclinic-core/internal/appointment"
	"github.com/hackgods/vetclinic-core/internal/clinic"
	"github.com/hackgods/vetclinic-core/internal/config"
	"github.com/hackgods/vetclinic-core/internal/invoice"
	"github.com/hackgods/vetclinic-core/internal/logger"
)

// The seed goes through the engines rather than raw SQL so that every row it
// writes satisfies the same invariants as live traffic.
func main() {
	practitioners := flag.Int("practitioners", 20, "number of practitioners")
	days := flag.Int("days", 14, "days of calendar to fill, starting tomorrow")
	perDay := flag.Int("per-day", 12, "booking attempts per practitioner per day")
	invoices := flag.Int("invoices", 300, "number of invoices")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: os.Stdout}).
		With().Str("service", "seed").Logger()
	log.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	a, err := app.Build(ctx, cfg, zerolog.Nop())
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	dispatched := make(chan struct{})
	go func() {
		_ = a.Dispatcher.Run(dispatchCtx)
		close(dispatched)
	}()
	defer func() {
		stopDispatch()
		<-dispatched
	}()

	gofakeit.Seed(time.Now().UnixNano())

	booked, err := seedAppointments(ctx, a.Appointments, *practitioners, *days, *perDay, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed appointments")
	}
	paid, err := seedInvoices(ctx, a.Invoices, *invoices, log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed invoices")
	}

	log.Info().Int("appointments", booked).Int("paid_invoices", paid).Msg("seed complete")
}

var (
	kinds = []appointment.ServiceKind{
		appointment.KindConsultation,
		appointment.KindCheckup,
		appointment.KindVaccination,
		appointment.KindSurgery,
		appointment.KindEmergency,
	}
	durations = []int{15, 20, 30, 45, 60, 90}
	reasons   = []string{
		"Annual wellness exam",
		"Rabies booster",
		"Limping on front leg",
		"Dental cleaning",
		"Skin irritation",
		"Post-surgery follow-up",
		"Vomiting since yesterday",
		"Spay procedure",
	}
	methods = []invoice.PaymentMethod{
		invoice.MethodCash,
		invoice.MethodCard,
		invoice.MethodTransfer,
		invoice.MethodCheck,
	}
)

func seedAppointments(ctx context.Context, svc *appointment.Service, practitioners, days, perDay int, log zerolog.Logger) (int, error) {
	log.Info().Int("practitioners", practitioners).Int("days", days).Msg("seeding appointments")

	tomorrow := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	booked, conflicts := 0, 0

	for p := 0; p < practitioners; p++ {
		practitionerID := uuid.New()

		for d := 0; d < days; d++ {
			opening := tomorrow.AddDate(0, 0, d).Add(8 * time.Hour)

			for i := 0; i < perDay; i++ {
				start := opening.Add(time.Duration(gofakeit.Number(0, 9*4)) * 15 * time.Minute)

				appt, err := svc.Propose(ctx, appointment.ProposeInput{
					PatientID:       uuid.New(),
					PractitionerID:  practitionerID,
					StartAt:         start,
					Kind:            kinds[gofakeit.Number(0, len(kinds)-1)],
					DurationMinutes: durations[gofakeit.Number(0, len(durations)-1)],
					Reason:          reasons[gofakeit.Number(0, len(reasons)-1)],
					Notes:           fmt.Sprintf("%s, owner %s", gofakeit.PetName(), gofakeit.Name()),
				})
				var conflict *clinic.ConflictError
				if errors.As(err, &conflict) {
					conflicts++
					continue
				}
				if err != nil {
					return booked, err
				}
				booked++

				if gofakeit.Number(1, 100) <= 60 {
					if _, err := svc.Transition(ctx, appt.ID, appointment.StatusConfirmed, nil); err != nil {
						return booked, err
					}
				}
			}
		}
	}

	log.Info().Int("booked", booked).Int("conflicts_skipped", conflicts).Msg("appointments seeded")
	return booked, nil
}

func seedInvoices(ctx context.Context, svc *invoice.Service, count int, log zerolog.Logger) (int, error) {
	log.Info().Int("count", count).Msg("seeding invoices")

	cashier := uuid.New()
	paid := 0

	for i := 0; i < count; i++ {
		inv, err := svc.Open(ctx, invoice.OpenInput{
			PatientID: uuid.New(),
			OwnerID:   uuid.New(),
			IssuedBy:  cashier,
		})
		if err != nil {
			return paid, err
		}

		for n := gofakeit.Number(1, 4); n > 0; n-- {
			inv, err = svc.AddItem(ctx, inv.ID, invoice.AddItemInput{
				ProductID: uuid.New(),
				Quantity:  gofakeit.Number(1, 3),
				UnitPrice: decimal.NewFromFloat(gofakeit.Price(5, 250)).Round(2),
			})
			if err != nil {
				return paid, err
			}
		}

		// Roughly a third stay unpaid, a third partial, a third settled.
		switch gofakeit.Number(0, 2) {
		case 0:
			continue
		case 1:
			half := inv.Total.Div(decimal.NewFromInt(2)).Round(2)
			if _, err := svc.RecordPayment(ctx, inv.ID, payment(half, cashier)); err != nil {
				return paid, err
			}
		case 2:
			if _, err := svc.RecordPayment(ctx, inv.ID, payment(inv.Total, cashier)); err != nil {
				return paid, err
			}
			paid++
		}
	}

	log.Info().Int("invoices", count).Int("paid", paid).Msg("invoices seeded")
	return paid, nil
}

func payment(amount decimal.Decimal, cashier uuid.UUID) invoice.PaymentInput {
	return invoice.PaymentInput{
		Amount:     amount,
		Method:     methods[gofakeit.Number(0, len(methods)-1)],
		ReceivedBy: cashier,
	}
}
