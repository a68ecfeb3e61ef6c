package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"waveScope/internal/config"
	"waveScope/internal/model"
	"waveScope/internal/router"
	"waveScope/internal/storage"
)

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	decoder, err := router.NewDecoder(common.HexToAddress(cfg.ChallengeAddress), common.HexToAddress(cfg.PoolAddress))
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	outWriter, err := storage.NewJSONLWriter(cfg.Out, false)
	if err != nil {
		return err
	}
	defer outWriter.Close()

	errWriter, err := storage.NewJSONLWriter(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
	)

	stats, err := decodeStream(inputFile, decoder, outWriter, errWriter)
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("total", stats.total),
		zap.Int("decoded", stats.decoded),
		zap.Int("skipped", stats.skipped),
		zap.Int("failed", stats.failed),
	)

	return nil
}

type decodeStats struct {
	total, decoded, skipped, failed int
}

type recordWriter interface {
	Write(value interface{}) error
}

// decodeStream turns raw log lines into typed events. Logs of events that are
// not routed are counted as skipped; every other failure goes to errOut.
func decodeStream(in io.Reader, decoder *router.Decoder, out, errOut recordWriter) (decodeStats, error) {
	var stats decodeStats

	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.total++

		var record model.LogRecord
		if err := json.Unmarshal(line, &record); err != nil {
			stats.failed++
			writeDecodeError(errOut, model.DecodeError{Error: err.Error()})
			continue
		}
		if len(record.Topics) == 0 {
			stats.failed++
			writeDecodeError(errOut, decodeErrorFromRecord(record, fmt.Errorf("missing topic0")))
			continue
		}

		event, err := decoder.DecodeRecord(record)
		if errors.Is(err, router.ErrUnknownEvent) {
			stats.skipped++
			continue
		}
		if err != nil {
			stats.failed++
			writeDecodeError(errOut, decodeErrorFromRecord(record, err))
			continue
		}

		typed := model.TypedEvent{
			BlockNumber: record.BlockNumber,
			TxHash:      record.TxHash,
			LogIndex:    record.LogIndex,
			Address:     record.Address,
			EventName:   event.Name(),
			Timestamp:   record.Timestamp,
			Decoded:     event,
			Raw:         &model.RawLogRef{Topic0: record.Topics[0], Data: record.Data},
		}
		if err := out.Write(typed); err != nil {
			return stats, err
		}
		stats.decoded++
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan input: %w", err)
	}
	return stats, nil
}

func decodeErrorFromRecord(record model.LogRecord, err error) model.DecodeError {
	topic0 := ""
	if len(record.Topics) > 0 {
		topic0 = record.Topics[0]
	}

	return model.DecodeError{
		BlockNumber: record.BlockNumber,
		TxHash:      record.TxHash,
		LogIndex:    record.LogIndex,
		Address:     record.Address,
		Topic0:      topic0,
		Error:       err.Error(),
	}
}

func writeDecodeError(writer recordWriter, errRecord model.DecodeError) {
	if writer == nil {
		return
	}
	_ = writer.Write(errRecord)
}
