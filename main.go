package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dmorgan81/stabilitystudio/internal/feed"
	"github.com/dmorgan81/stabilitystudio/internal/handler"
	"github.com/dmorgan81/stabilitystudio/internal/inject"
	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/dmorgan81/stabilitystudio/internal/page"
	"github.com/dmorgan81/stabilitystudio/internal/prompt"
	"github.com/dmorgan81/stabilitystudio/internal/server"
	"github.com/dmorgan81/stabilitystudio/internal/session"
	"github.com/dmorgan81/stabilitystudio/internal/store"
	"github.com/samber/do"
)

const usage = `usage: stabilitystudio <command> [flags]

commands:
  generate   generate images from a prompt and store them
  history    list stored images
  save       copy a stored image to another path
  feed       write the history as RSS to stdout
  serve      run the local web studio
`

func main() {
	logger := log.New(os.Stderr, log.ParseLevel(os.Getenv("LOG_LEVEL")))
	ctx := log.NewContext(context.Background(), logger)
	os.Exit(run(ctx, os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	injector := inject.Setup(ctx)
	defer func() { _ = injector.Shutdown() }()

	var err error
	switch cmd, rest := args[0], args[1:]; cmd {
	case "generate":
		err = generate(ctx, injector, rest, os.Stdout)
	case "history":
		err = history(ctx, injector, os.Stdout)
	case "save":
		err = save(ctx, injector, rest)
	case "feed":
		err = writeFeed(ctx, injector, os.Stdout)
	case "serve":
		err = serve(ctx, injector)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func generate(ctx context.Context, injector *do.Injector, args []string, w io.Writer) error {
	d := prompt.DefaultFields()
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	negative := fs.String("negative", "", "things to avoid in the image")
	width := fs.Int("width", d.Width, "image width")
	height := fs.Int("height", d.Height, "image height")
	cfg := fs.Float64("cfg-scale", d.CfgScale, "guidance scale")
	steps := fs.Int("steps", d.Steps, "diffusion steps")
	samples := fs.Int("samples", d.Samples, "number of images")
	style := fs.String("style", d.Style, "style: "+strings.Join(prompt.Styles(), ", "))
	if err := fs.Parse(args); err != nil {
		return err
	}

	input := handler.Input{
		Prompt:         strings.Join(fs.Args(), " "),
		NegativePrompt: *negative,
		Width:          width,
		Height:         height,
		CfgScale:       cfg,
		Steps:          steps,
		Samples:        samples,
		Style:          *style,
	}

	sess, err := do.Invoke[*session.Session](injector)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := sess.Start(runCtx); err != nil {
		return err
	}

	task, err := sess.Submit(ctx, input)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	fmt.Fprint(os.Stderr, "generating")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr)
			return ctx.Err()
		case <-ticker.C:
			fmt.Fprint(os.Stderr, ".")
		case ev := <-sess.Events():
			if ev.Task != task {
				continue
			}
			fmt.Fprintln(os.Stderr)
			if ev.Kind == session.Failed {
				return ev.Err
			}
			for _, id := range ev.Output.IDs {
				fmt.Fprintln(w, id)
			}
			return nil
		}
	}
}

func history(ctx context.Context, injector *do.Injector, w io.Writer) error {
	persisted, err := do.MustInvoke[*store.FileStore](injector).List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSIZE\tSTYLE\tPROMPT")
	for _, p := range persisted {
		params := p.Metadata.Parameters
		fmt.Fprintf(tw, "%s\t%dx%d\t%s\t%s\n", p.ID, params.Width, params.Height, params.Style, page.Preview(p.Metadata.Prompt))
	}
	return tw.Flush()
}

func save(ctx context.Context, injector *do.Injector, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: stabilitystudio save <id> <destination>")
	}
	return do.MustInvoke[*store.FileStore](injector).SaveAs(ctx, args[0], args[1])
}

func writeFeed(ctx context.Context, injector *do.Injector, w io.Writer) error {
	rss, err := do.MustInvoke[*feed.Generator](injector).Generate(ctx)
	if err != nil {
		return err
	}
	_, err = w.Write(rss)
	return err
}

func serve(ctx context.Context, injector *do.Injector) error {
	sess, err := do.Invoke[*session.Session](injector)
	if err != nil {
		return err
	}
	srv, err := do.Invoke[*server.Server](injector)
	if err != nil {
		return err
	}
	addr := do.MustInvokeNamed[string](injector, "listen_addr")

	if err := sess.Start(ctx); err != nil {
		return err
	}
	if err := srv.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
