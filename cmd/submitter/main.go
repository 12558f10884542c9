// Command submitter pushes jobs to a validator's job API and waits for their results.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/proofmesh/proofmesh/logging"
)

type options struct {
	API          string        `long:"api"           description:"Address of the validator job API" default:"http://localhost:8092"`
	Circuit      string        `long:"circuit"       description:"Circuit to run"                    required:"true"`
	Inputs       string        `long:"inputs"        description:"JSON inputs, random ones when empty"`
	Jobs         int           `long:"jobs"          description:"Number of jobs to submit"          default:"1"`
	Concurrency  int           `long:"concurrency"   description:"Number of concurrent submitters"   default:"4"`
	PollInterval time.Duration `long:"poll-interval" description:"Interval between status polls"     default:"2s"`
	Timeout      time.Duration `long:"timeout"       description:"Time to wait for one result"       default:"10m"`
}

var errFailed = errors.New("job failed")

type client struct {
	opts options
	http *http.Client
}

func (c *client) submit(ctx context.Context, inputs json.RawMessage) (string, error) {
	body, err := json.Marshal(map[string]any{"circuit": c.opts.Circuit, "inputs": inputs})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.API+"/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	status, res, err := c.do(req)
	if err != nil {
		return "", err
	}
	if status != http.StatusAccepted {
		return "", fmt.Errorf("submit rejected with %d: %s", status, res.Get("error").String())
	}
	return res.Get("hash").String(), nil
}

func (c *client) wait(ctx context.Context, hash string) (gjson.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.API+"/jobs/"+hash, nil)
		if err != nil {
			return gjson.Result{}, err
		}
		status, res, err := c.do(req)
		if err != nil {
			return gjson.Result{}, err
		}
		if status != http.StatusOK {
			return gjson.Result{}, fmt.Errorf("status of %s: %d", hash, status)
		}
		if res.Get("status").String() == "done" {
			return res.Get("result"), nil
		}
		select {
		case <-ctx.Done():
			return gjson.Result{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *client) do(req *http.Request) (int, gjson.Result, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, gjson.Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, gjson.Result{}, err
	}
	return resp.StatusCode, gjson.ParseBytes(body), nil
}

func randomInputs(rng *rand.Rand) json.RawMessage {
	row := make([]float64, 5)
	for i := range row {
		row[i] = rng.Float64()
	}
	inputs, _ := json.Marshal(map[string]any{"input_data": [][]float64{row}})
	return inputs
}

func run(ctx context.Context, opts options) error {
	logger := logging.FromContext(ctx)
	c := &client{opts: opts, http: &http.Client{Timeout: time.Minute}}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	inputs := make([]json.RawMessage, opts.Jobs)
	for i := range inputs {
		if opts.Inputs != "" {
			inputs[i] = json.RawMessage(opts.Inputs)
		} else {
			inputs[i] = randomInputs(rng)
		}
	}

	var eg errgroup.Group
	eg.SetLimit(opts.Concurrency)
	for i := range inputs {
		in := inputs[i]
		eg.Go(func() error {
			started := time.Now()
			hash, err := c.submit(ctx, in)
			if err != nil {
				return err
			}
			result, err := c.wait(ctx, hash)
			if err != nil {
				return err
			}
			fields := []zap.Field{
				zap.String("hash", hash),
				zap.String("worker", result.Get("worker").String()),
				zap.Duration("elapsed", time.Since(started)),
			}
			if !result.Get("success").Bool() {
				logger.Error("job failed", append(fields, zap.String("error", result.Get("error").String()))...)
				return fmt.Errorf("%w: %s", errFailed, hash)
			}
			logger.Info("job done", fields...)
			return nil
		})
	}
	return eg.Wait()
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	logger := logging.New(zap.InfoLevel, "", false)
	ctx, stop := signal.NotifyContext(logging.NewContext(context.Background(), logger), os.Interrupt)
	defer stop()
	if err := run(ctx, opts); err != nil {
		logger.Fatal("submitting failed", zap.Error(err))
	}
}
