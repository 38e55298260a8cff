package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arzzra/warm_transfer/pkg/dialer"
	"github.com/arzzra/warm_transfer/pkg/transfer"
)

// TransferFile конфигурация перевода, заменяющая значения по умолчанию:
// список адресатов и фразы.
type TransferFile struct {
	Targets  []dialer.Target   `json:"transfer_targets" yaml:"transfer_targets"`
	Messages transfer.Messages `json:"transfer_messages" yaml:"transfer_messages"`
}

// LoadTransferFile читает YAML файл конфигурации перевода
func LoadTransferFile(path string) (*TransferFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации перевода: %w", err)
	}
	var f TransferFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
	}
	return &f, nil
}

// ParseTransferConfig разбирает JSON конфигурацию перевода
// в формате тела webhook (warm_transfer_config).
func ParseTransferConfig(data []byte) (*TransferFile, error) {
	var f TransferFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации перевода: %w", err)
	}
	return &f, nil
}

// ApplyTransfer заменяет адресатов, если файл их задаёт,
// и фразы, заданные в файле. Пустые фразы остаются прежними.
func (c *Config) ApplyTransfer(f *TransferFile) {
	if f == nil {
		return
	}
	if len(f.Targets) > 0 {
		c.Targets = append([]dialer.Target(nil), f.Targets...)
	}
	if f.Messages.Hold != "" {
		c.Messages.Hold = f.Messages.Hold
	}
	if f.Messages.Failure != "" {
		c.Messages.Failure = f.Messages.Failure
	}
	if f.Messages.Connecting != "" {
		c.Messages.Connecting = f.Messages.Connecting
	}
}
