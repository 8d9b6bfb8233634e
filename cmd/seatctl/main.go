// Command seatctl is a terminal client for the seat hold service: it shows
// a seat map, watches it change, and walks a user through hold, payment
// and confirmation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"

	"github.com/iliyamo/cinema-seat-lock/internal/booking"
	"github.com/iliyamo/cinema-seat-lock/internal/client"
)

const usage = `usage: seatctl [-api URL] [-token JWT] [-prefs FILE] <command> [flags]

commands:
  login    -email E -password P      log in and remember the user id
  location -name N -lat X -lon Y     remember the search location
  seats    -show ID                  print the seat map
  watch    -show ID [-for 30s]       print the seat map as it changes
  book     -show ID -seats A1,A2     hold seats, pay and confirm
`

type app struct {
	api       *client.API
	prefsPath string
	log       *log.Logger
}

func main() {
	_ = godotenv.Load()
	logger := log.New("seatctl")

	fs := flag.NewFlagSet("seatctl", flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	base := fs.String("api", envOr("SEATCTL_API", "http://localhost:8080"), "service base URL")
	token := fs.String("token", os.Getenv("SEATCTL_TOKEN"), "access token")
	prefs := fs.String("prefs", "", "preferences file")
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	path := *prefs
	if path == "" {
		p, err := client.DefaultPreferencesPath()
		if err != nil {
			logger.Fatalf("preferences: %v", err)
		}
		path = p
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{api: client.NewAPI(*base, *token), prefsPath: path, log: logger}
	cmd, args := fs.Arg(0), fs.Args()[1:]
	var err error
	switch cmd {
	case "login":
		err = a.login(ctx, args)
	case "location":
		err = a.location(args)
	case "seats":
		err = a.seats(ctx, args)
	case "watch":
		err = a.watch(ctx, args)
	case "book":
		err = a.book(ctx, args)
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Errorf("%s: %v", cmd, err)
		os.Exit(1)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	_ = fs.Parse(args)

	uid, err := a.api.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	p, err := client.LoadPreferences(a.prefsPath)
	if err != nil {
		return err
	}
	p.UserID = fmt.Sprint(uid)
	if err := client.SavePreferences(a.prefsPath, p); err != nil {
		return err
	}
	fmt.Println(a.api.Token)
	return nil
}

func (a *app) location(args []string) error {
	fs := flag.NewFlagSet("location", flag.ExitOnError)
	name := fs.String("name", "", "place name")
	lat := fs.Float64("lat", 0, "latitude")
	lon := fs.Float64("lon", 0, "longitude")
	radius := fs.Float64("radius", 10, "search radius in km")
	_ = fs.Parse(args)

	p, err := client.LoadPreferences(a.prefsPath)
	if err != nil {
		return err
	}
	p.Location = &client.Location{Name: *name, Lat: *lat, Lon: *lon, RadiusKm: *radius}
	return client.SavePreferences(a.prefsPath, p)
}

func (a *app) seats(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seats", flag.ExitOnError)
	show := fs.Uint64("show", 0, "show id")
	_ = fs.Parse(args)

	s := client.NewSession(a.api, a.log, client.SessionOptions{})
	vm, err := s.Open(ctx, *show)
	if err != nil {
		return err
	}
	printMap(vm)
	return nil
}

func (a *app) watch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	show := fs.Uint64("show", 0, "show id")
	every := fs.Duration("every", client.DefaultPollInterval, "poll interval")
	dur := fs.Duration("for", 0, "stop after this long (0 = until interrupted)")
	_ = fs.Parse(args)

	if *dur > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *dur)
		defer cancel()
	}
	s := client.NewSession(a.api, a.log, client.SessionOptions{PollInterval: *every})
	defer s.Close()
	if _, err := s.Open(ctx, *show); err != nil {
		return err
	}
	for u := range s.Watch(ctx) {
		if u.Err != nil {
			a.log.Warnf("refresh failed: %v", u.Err)
			continue
		}
		fmt.Printf("-- %s\n", u.At.Format(time.TimeOnly))
		printMap(u.View)
	}
	return nil
}

func (a *app) book(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("book", flag.ExitOnError)
	show := fs.Uint64("show", 0, "show id")
	seatList := fs.String("seats", "", "comma separated seat ids")
	method := fs.String("pay", "", "payment method id")
	outcome := fs.String("outcome", booking.StatusSucceeded, "mock PSP outcome: succeeded or failed")
	_ = fs.Parse(args)

	s := client.NewSession(a.api, a.log, client.SessionOptions{})
	defer s.Close()
	if _, err := s.Open(ctx, *show); err != nil {
		return err
	}
	for _, id := range strings.Split(*seatList, ",") {
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		cleared, err := s.Toggle(id)
		if err != nil {
			return fmt.Errorf("select %s: %w", id, err)
		}
		if cleared {
			a.log.Warnf("%s is in another category; earlier picks were cleared", id)
		}
	}
	vm := s.View()
	fmt.Printf("selected %v, total %s\n", vm.Selected, money(vm.TotalCents))

	hold, err := s.Lock(ctx)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && len(apiErr.Unavailable) > 0 {
			return fmt.Errorf("seats %v were just taken, pick again", apiErr.Unavailable)
		}
		return err
	}
	fmt.Printf("held %v as %s until %s\n", hold.SeatIDs, hold.BookingRef, hold.ExpiresAt.Local().Format(time.TimeOnly))

	expired := make(chan struct{})
	err = s.StartCountdown(ctx, func(d time.Duration) {
		fmt.Printf("\rtime left %s ", client.FormatRemaining(d))
	}, func() { close(expired) })
	if err != nil {
		return err
	}

	ps, err := s.Pay(ctx, *method)
	if err != nil {
		if errors.Is(err, client.ErrSessionExpired) {
			return errors.New("session expired, start again")
		}
		s.Abandon(context.WithoutCancel(ctx))
		return err
	}
	fmt.Printf("\n%s: %s\n", ps.Message, ps.PaymentURL)

	tx := transactionID(ps.PaymentURL)
	if tx == "" {
		// a real PSP confirms through its webhook; wait for the hold to settle
		return a.awaitWebhook(ctx, s, hold.BookingRef, expired)
	}
	select {
	case <-ctx.Done():
		s.Abandon(context.WithoutCancel(ctx))
		return ctx.Err()
	case <-expired:
		return errors.New("session expired, start again")
	default:
	}
	b, err := s.ConfirmMock(ctx, tx, *outcome)
	if err != nil {
		return err
	}
	fmt.Printf("booking %s confirmed: seats %v, paid %s\n", b.ID, b.SeatIDs, money(b.TotalCents))
	return nil
}

func (a *app) awaitWebhook(ctx context.Context, s *client.Session, ref string, expired <-chan struct{}) error {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Abandon(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-expired:
			return errors.New("session expired, start again")
		case <-t.C:
		}
		b, err := a.api.Booking(ctx, ref)
		if err == nil {
			fmt.Printf("\nbooking %s confirmed: seats %v\n", b.ID, b.SeatIDs)
			return nil
		}
		if !errors.Is(err, client.ErrNotFound) {
			a.log.Warnf("booking %s: %v", ref, err)
		}
	}
}

func transactionID(paymentURL string) string {
	u, err := url.Parse(paymentURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("transaction_id")
}

func printMap(vm client.ViewModel) {
	marks := map[client.ViewState]string{
		client.ViewAvailable: "o",
		client.ViewHeld:      "h",
		client.ViewBooked:    "x",
		client.ViewSelected:  "*",
		client.ViewGap:       " ",
	}
	for _, c := range vm.Categories {
		fmt.Printf("%s (%s)\n", c.Category.Name, money(c.Category.PriceCents))
		for r := 0; r < c.Rows; r++ {
			var b strings.Builder
			for col := 0; col < c.Columns; col++ {
				i := r*c.Columns + col
				if i >= len(c.Cells) {
					break
				}
				cell := c.Cells[i]
				if cell.State == client.ViewGap {
					b.WriteString("      ")
					continue
				}
				fmt.Fprintf(&b, "%-4s%s ", cell.SeatID, marks[cell.State])
			}
			fmt.Println(b.String())
		}
	}
	if len(vm.Selected) > 0 {
		fmt.Printf("selected %v, total %s\n", vm.Selected, money(vm.TotalCents))
	}
}

func money(cents int64) string { return fmt.Sprintf("%d.%02d", cents/100, cents%100) }

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
