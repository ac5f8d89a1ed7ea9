package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/membership-session/authapi/fakebackend"
	"github.com/jrsteele09/membership-session/client"
	"github.com/jrsteele09/membership-session/internal/config"
	"github.com/jrsteele09/membership-session/internal/logging"
	"github.com/jrsteele09/membership-session/push"
	"github.com/jrsteele09/membership-session/session"
	"github.com/jrsteele09/membership-session/users"
)

const usage = `usage: membershipctl <command> [flags]

commands:
  login            -email -password
  register         -name -email -phone -password [-referral] [-verification]
  logout
  whoami
  banner           [-dismiss] [-reset]
  change-password  -current -new
  forgot-password  -email
  reset-password   -email -code -new
  fake-backend     [-addr] [-email -password]`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	if len(args) == 0 {
		return errors.New(usage)
	}
	if args[0] == "fake-backend" {
		return serveFakeBackend(args[1:])
	}

	cfg, err := config.New()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return err
	}
	if cfg.GetEnv() == "DEV" {
		displayAppname(cfg.GetAppName())
	}

	c, err := client.New(cfg, consoleNavigator{logger: logger},
		client.WithLogger(logger),
		client.WithPushProvider(push.NewStaticProvider(cfg.GetPushToken())),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	c.Start(ctx)

	return dispatch(ctx, c, args[0], args[1:])
}

func dispatch(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "login":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		email := fs.String("email", "", "account email")
		password := fs.String("password", "", "account password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		creds := users.Credentials{Email: *email, Password: *password}
		if err := creds.Validate(); err != nil {
			return err
		}
		s, err := c.Manager.Login(ctx, creds)
		if err != nil {
			return err
		}
		printSession(s)

	case "register":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		reg := users.Registration{}
		fs.StringVar(&reg.Name, "name", "", "full name")
		fs.StringVar(&reg.Email, "email", "", "account email")
		fs.StringVar(&reg.Phone, "phone", "", "phone number")
		fs.StringVar(&reg.Password, "password", "", "account password")
		fs.StringVar(&reg.ReferralCode, "referral", "", "referral code")
		fs.StringVar(&reg.MembershipVerificationCode, "verification", "", "membership verification code")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if err := reg.Validate(); err != nil {
			return err
		}
		s, err := c.Manager.Register(ctx, reg)
		if err != nil {
			return err
		}
		printSession(s)

	case "logout":
		c.Manager.Logout(ctx)
		fmt.Println("signed out")

	case "whoami":
		printSession(c.Manager.Current())

	case "banner":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		dismiss := fs.Bool("dismiss", false, "hide the upsell banner")
		reset := fs.Bool("reset", false, "show the upsell banner again")
		if err := fs.Parse(args); err != nil {
			return err
		}
		switch {
		case *dismiss:
			if err := c.Gate.Dismiss(ctx); err != nil {
				return err
			}
		case *reset:
			if err := c.Gate.ResetDismissal(ctx); err != nil {
				return err
			}
		}
		fmt.Printf("show upsell: %t\n", c.Gate.ShowUpsell(ctx))

	case "change-password":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		current := fs.String("current", "", "current password")
		next := fs.String("new", "", "new password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		msg, err := c.ChangePassword(ctx, *current, *next)
		if err != nil {
			return err
		}
		fmt.Println(msg)

	case "forgot-password":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		email := fs.String("email", "", "account email")
		if err := fs.Parse(args); err != nil {
			return err
		}
		msg, err := c.ForgotPassword(ctx, *email)
		if err != nil {
			return err
		}
		fmt.Println(msg)

	case "reset-password":
		fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
		email := fs.String("email", "", "account email")
		code := fs.String("code", "", "reset code")
		next := fs.String("new", "", "new password")
		if err := fs.Parse(args); err != nil {
			return err
		}
		msg, err := c.ResetPassword(ctx, *email, *code, *next)
		if err != nil {
			return err
		}
		fmt.Println(msg)

	default:
		return errors.New(usage)
	}
	return nil
}

func printSession(s session.Session) {
	if !s.IsAuthenticated || s.User == nil {
		fmt.Printf("phase: %s (not signed in)\n", s.Phase)
		return
	}
	u := s.User
	fmt.Printf("phase:      %s\n", s.Phase)
	fmt.Printf("name:       %s\n", u.Name)
	fmt.Printf("email:      %s\n", u.Email)
	fmt.Printf("membership: %s\n", u.MembershipStatus)
	if u.MembershipPlan != "" {
		fmt.Printf("plan:       %s\n", u.MembershipPlan)
	}
}

type consoleNavigator struct {
	logger zerolog.Logger
}

func (n consoleNavigator) Replace(route string) {
	n.logger.Debug().Str("route", route).Msg("navigate")
}

func (n consoleNavigator) Push(route string) {
	fmt.Printf("open %s\n", route)
}

func serveFakeBackend(args []string) error {
	fs := flag.NewFlagSet("fake-backend", flag.ContinueOnError)
	addr := fs.String("addr", ":8081", "listen address")
	email := fs.String("email", "", "seed account email")
	password := fs.String("password", "", "seed account password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	backend := fakebackend.New()
	if *email != "" {
		profile := users.Profile{Email: *email, Name: "Demo Member", MembershipStatus: users.NoActiveMembership}
		if err := backend.AddAccount(profile, *password); err != nil {
			return err
		}
	}

	displayAppname("fake backend")
	server := &http.Server{Addr: *addr, Handler: backend, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- listenAndServe(server) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case <-stop:
	}
	return shutdown(server)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("fake backend listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
