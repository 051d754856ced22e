package main

import (
	"flag"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hlsget/hlsget/httpout"
	"github.com/hlsget/hlsget/worker"
)

type optionFlags map[string]string

func (o optionFlags) String() string {
	return ""
}

func (o optionFlags) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		logrus.Fatalf("bad option %q, want key=value", value)
	}
	o[parts[0]] = parts[1]
	return nil
}

func main() {
	url := flag.String("url", "", "HLS playlist url")
	output := flag.String("output", "-", "output file, - for stdout")
	configPath := flag.String("config", "", "configuration path")
	serveHttp := flag.Bool("http", false, "serve the stream over a local http port instead of writing it")
	options := optionFlags{}
	flag.Var(options, "o", "config option override, key=value, repeatable")
	flag.Parse()

	if *url == "" {
		logrus.Fatal("No playlist url given")
	}

	config := worker.NewConfig()
	if *configPath != "" {
		var err error
		config, err = worker.NewConfigFromFile(*configPath)
		if err != nil {
			logrus.Fatalf("Cannot init config %+v", err)
		}
	}
	if err := config.ApplyOptions(options); err != nil {
		logrus.Fatalf("Cannot apply options %+v", err)
	}
	if err := config.SetupLogging(); err != nil {
		logrus.Fatalf("%+v", err)
	}

	if *serveHttp {
		serve(*url, config)
		return
	}

	stream, err := worker.OpenStream(*url, config)
	if err != nil {
		logrus.Fatalf("Cannot open stream %+v", err)
	}
	defer stream.Close()

	out := os.Stdout
	if *output != "-" {
		out, err = os.Create(*output)
		if err != nil {
			logrus.Fatalf("Cannot create output %+v", err)
		}
		defer out.Close()
	}

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		logrus.Info(<-sigch)
		stream.Close()
	}()

	n, err := io.Copy(out, stream)
	if err != nil {
		logrus.Errorf("Stream ended after %d bytes: %+v", n, err)
		os.Exit(1)
	}
	logrus.Infof("Stream finished, %d bytes", n)
}

func serve(url string, config worker.Config) {
	server, err := httpout.NewServer(httpout.NewConfig())
	if err != nil {
		logrus.Fatalf("Cannot create http output %+v", err)
	}
	server.OpenStream = func() (io.ReadCloser, error) {
		return worker.OpenStream(url, config)
	}

	if err := server.Listen(); err != nil {
		logrus.Fatalf("Cannot listen %+v", err)
	}
	logrus.Infof("Serving stream on %s", server.URL())

	go func() {
		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
		logrus.Info(<-sigch)
		server.Stop()
	}()

	if err := server.Serve(); err != nil {
		logrus.Fatalf("Cannot serve %+v", err)
	}
}
