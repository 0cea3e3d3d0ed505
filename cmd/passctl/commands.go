package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"ticket-pass/internal/authority"
	"ticket-pass/internal/barcode"
	"ticket-pass/internal/clock"
	"ticket-pass/internal/envelope"
	"ticket-pass/internal/poller"
	"ticket-pass/internal/rotating"
	"ticket-pass/internal/services"
	"ticket-pass/internal/signer"
	"ticket-pass/models"
	"ticket-pass/utils"
)

func runKeygen(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	dir := fs.String("dir", "", "write an ed25519 signing keypair to this directory")
	if err := parse(fs, args); err != nil {
		return err
	}

	secret, err := utils.GenerateBaseSecret()
	if err != nil {
		return err
	}
	identity, err := services.GenerateAgeIdentity()
	if err != nil {
		return err
	}

	out := map[string]string{
		"base_secret":          secret,
		"secret_seal_identity": identity,
	}
	if *dir != "" {
		if err := os.MkdirAll(*dir, 0700); err != nil {
			return err
		}
		public, private, err := signer.GenerateKeypair()
		if err != nil {
			return err
		}
		if err := signer.SaveKeypair(*dir, public, private); err != nil {
			return err
		}
		out["signing_key_dir"] = *dir
	}
	return yaml.NewEncoder(stdout).Encode(out)
}

type issueOutput struct {
	TicketID  string    `yaml:"ticket_id"`
	Envelope  string    `yaml:"envelope"`
	Barcode   string    `yaml:"barcode"`
	Window    int64     `yaml:"window"`
	ExpiresAt time.Time `yaml:"expires_at"`
}

func runIssue(args []string, stdout io.Writer) error {
	var cf cryptoFlags
	fs := pflag.NewFlagSet("issue", pflag.ContinueOnError)
	cf.add(fs)
	descriptorPath := fs.String("descriptor", "", "YAML ticket descriptor")
	qrPath := fs.String("qr", "", "write the matrix code PNG here")
	qrSize := fs.Int("qr-size", services.DefaultQRSize, "matrix code size in pixels")
	barcodePath := fs.String("barcode", "", "write the Code 93 PNG here")
	prefix := fs.String("prefix", barcode.DefaultPrefix, "barcode prefix")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *descriptorPath == "" {
		return fmt.Errorf("--descriptor is required")
	}

	descriptor, err := loadDescriptor(*descriptorPath)
	if err != nil {
		return err
	}
	protector, err := cf.protector()
	if err != nil {
		return err
	}
	sign, err := cf.signer()
	if err != nil {
		return err
	}
	generator, err := rotating.NewGenerator(cf.width, clock.Real())
	if err != nil {
		return err
	}
	encoder, err := barcode.NewEncoder(*prefix)
	if err != nil {
		return err
	}

	issued, err := envelope.NewIssuer(generator, sign, protector).Issue(descriptor, cf.secret)
	if err != nil {
		return err
	}
	code := encoder.SymbolString(issued.Token)

	if *qrPath != "" {
		if err := qrcode.WriteFile(issued.Envelope, qrcode.Medium, *qrSize, *qrPath); err != nil {
			return fmt.Errorf("writing qr code: %w", err)
		}
	}
	if *barcodePath != "" {
		if err := writeBarcode(code, *barcodePath); err != nil {
			return err
		}
	}

	return yaml.NewEncoder(stdout).Encode(issueOutput{
		TicketID:  descriptor.TicketID,
		Envelope:  issued.Envelope,
		Barcode:   code,
		Window:    issued.Window,
		ExpiresAt: issued.ExpiresAt.UTC(),
	})
}

func runVerify(args []string, stdin io.Reader, stdout io.Writer) error {
	var cf cryptoFlags
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	cf.add(fs)
	raw := fs.String("envelope", "", "envelope JSON; read from stdin when empty")
	tolerance := fs.Int64("tolerance", envelope.DefaultTolerance, "accepted window drift")
	if err := parse(fs, args); err != nil {
		return err
	}

	if *raw == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return err
		}
		*raw = string(bytes.TrimSpace(data))
	}

	protector, err := cf.protector()
	if err != nil {
		return err
	}
	verifier, err := cf.verifier()
	if err != nil {
		return err
	}

	acceptor, err := envelope.NewAcceptor(cf.width, *tolerance, verifier, protector, clock.Real())
	if err != nil {
		return err
	}
	_, descriptor, err := acceptor.AcceptString(*raw, cf.secret)
	if err != nil {
		return fmt.Errorf("%s: %w", envelope.ReasonOf(err), err)
	}
	return yaml.NewEncoder(stdout).Encode(descriptor)
}

func runBarcode(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("barcode", pflag.ContinueOnError)
	secret := fs.String("secret", "", "ticket base secret")
	prefix := fs.String("prefix", barcode.DefaultPrefix, "barcode prefix")
	width := fs.Duration("width", rotating.DefaultWidth, "window width")
	pngPath := fs.String("png", "", "write the Code 93 PNG here")
	if err := parse(fs, args); err != nil {
		return err
	}

	generator, err := rotating.NewGenerator(*width, clock.Real())
	if err != nil {
		return err
	}
	encoder, err := barcode.NewEncoder(*prefix)
	if err != nil {
		return err
	}
	token, window, err := generator.Token(*secret)
	if err != nil {
		return err
	}
	code := encoder.SymbolString(token)
	c, k, err := barcode.CheckValues(code)
	if err != nil {
		return err
	}

	if *pngPath != "" {
		if err := writeBarcode(code, *pngPath); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "%s window=%d check=%d,%d\n", code, window, c, k)
	return nil
}

func runWatch(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	ticketID := fs.String("ticket", "", "ticket id to watch")
	authorityURL := fs.String("authority", "http://localhost:8091", "gate API base url")
	gateID := fs.String("gate", "passctl", "gate id sent with each poll")
	if err := parse(fs, args); err != nil {
		return err
	}

	client, err := authority.NewClient(*authorityURL, *gateID)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// nil once validated, or the reason the poller gave up
	finished := make(chan error, 1)
	finish := func(err error) {
		select {
		case finished <- err:
		default:
		}
	}
	p, err := poller.New(poller.Config{
		TicketID: *ticketID,
		Fetcher:  client,
		Clock:    clock.Real(),
		OnUpdate: func(u poller.Update) {
			line := fmt.Sprintf("%s status=%s next=%s", u.FetchedAt.Format(time.TimeOnly), u.Status, u.Interval)
			if u.Err != nil {
				line += fmt.Sprintf(" failures=%d error=%q", u.Failures, u.Err)
			}
			if u.Degraded {
				line += " degraded"
			}
			fmt.Fprintln(stdout, line)
			if u.Status == models.StatusValidated {
				finish(nil)
			}
		},
		OnStop: func(_ *poller.Poller, reason error) { finish(reason) },
	})
	if err != nil {
		return err
	}

	p.Start(ctx)
	defer p.Stop()

	select {
	case <-ctx.Done():
		return nil
	case err := <-finished:
		return err
	}
}

func loadDescriptor(path string) (models.TicketDescriptor, error) {
	var d models.TicketDescriptor
	data, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&d); err != nil {
		return d, fmt.Errorf("parsing %s: %w", path, err)
	}
	return d, d.Validate()
}

func writeBarcode(code, path string) error {
	modules, err := barcode.EncodeSymbols(code)
	if err != nil {
		return err
	}
	png, err := barcode.RenderPNG(modules, services.DefaultBarcodeWidth, services.DefaultBarcodeHeight)
	if err != nil {
		return err
	}
	return os.WriteFile(path, png, 0644)
}
