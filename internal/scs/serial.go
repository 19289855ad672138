// SCSプロトコルで電力量計と通信する
// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2025 Akihiro Yamamoto <github.com/ak1211>
package scs

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tarm/serial"
)

// タイムアウト値
const DefaultResponseTimeout time.Duration = 3 * time.Second

// 多くのメーターで1回に転送できる最大バイト数
const (
	DefaultMaxUploadSize   int = 64
	DefaultMaxDownloadSize int = 32
)

// SerialConfig はシリアルポートの設定。
type SerialConfig struct {
	Name            string
	Baud            int
	ReadTimeout     time.Duration
	ResponseTimeout time.Duration
	MaxUploadSize   int
	MaxDownloadSize int
}

// OpenSerial はシリアルポートを開いてSerialTransportを作る。
func OpenSerial(cfg SerialConfig, logger *slog.Logger) (*SerialTransport, io.Closer, error) {
	config := &serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
	}
	stream, err := serial.OpenPort(config)
	if err != nil {
		return nil, nil, fmt.Errorf("OpenPort: %w", err)
	}
	t := NewSerialTransport(stream, logger)
	if cfg.ResponseTimeout > 0 {
		t.ResponseTimeout = cfg.ResponseTimeout
	}
	if cfg.MaxUploadSize > 0 {
		t.maxUpload = cfg.MaxUploadSize
	}
	if cfg.MaxDownloadSize > 0 {
		t.maxDownload = cfg.MaxDownloadSize
	}
	return t, stream, nil
}

// SerialTransport はio.ReadWriter上でSCS電文をやり取りする。
type SerialTransport struct {
	stream          io.ReadWriter
	logger          *slog.Logger
	ResponseTimeout time.Duration
	maxUpload       int
	maxDownload     int
	identity        *Identity
}

var (
	_ Transport     = (*SerialTransport)(nil)
	_ IdentityCache = (*SerialTransport)(nil)
)

func NewSerialTransport(stream io.ReadWriter, logger *slog.Logger) *SerialTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialTransport{
		stream:          stream,
		logger:          logger,
		ResponseTimeout: DefaultResponseTimeout,
		maxUpload:       DefaultMaxUploadSize,
		maxDownload:     DefaultMaxDownloadSize,
	}
}

func (t *SerialTransport) MaxUploadSize() int   { return t.maxUpload }
func (t *SerialTransport) MaxDownloadSize() int { return t.maxDownload }

func (t *SerialTransport) LastIdentity() (Identity, bool) {
	if t.identity == nil {
		return Identity{}, false
	}
	return *t.identity, true
}

// WakeUp は同期バイトを送ってメーターを起こす。
// 起こし直したメーターは別のメーターかもしれないので識別情報を忘れる。
func (t *SerialTransport) WakeUp() (AckCode, error) {
	t.identity = nil
	if _, err := t.stream.Write([]byte{SyncByte, SyncByte, SyncByte}); err != nil {
		return NoResponse, err
	}
	ack, err := t.readAck()
	t.logger.Debug("WakeUp", slog.String("result", ack.String()))
	return ack, err
}

func (t *SerialTransport) Identify() (AckCode, Identity, error) {
	ack, data, err := t.exchange(CommandIdentifyFrame(), IdentifyDataBytes)
	if err != nil || ack != Ack {
		return ack, Identity{}, err
	}
	id := parseIdentity(data)
	t.identity = &id
	t.logger.Debug("Identify",
		slog.String("unitId", id.UnitID),
		slog.String("deviceType", id.DeviceType),
		slog.String("memoryStart", fmt.Sprintf("%04x", id.MemoryStart)),
		slog.String("memoryEnd", fmt.Sprintf("%04x", id.MemoryEnd)),
	)
	return ack, id, nil
}

func (t *SerialTransport) SendPassword(secret string) (AckCode, error) {
	ack, _, err := t.exchange(CommandPasswordFrame(secret), 0)
	return ack, err
}

func (t *SerialTransport) Upload(address uint16, length uint16) (AckCode, []byte, error) {
	ack, data, err := t.exchange(CommandUploadFrame(address, length), int(length))
	if err == nil && ack == Ack {
		t.logger.Debug("Upload",
			slog.String("address", fmt.Sprintf("%04x", address)),
			slog.String("data", hex.EncodeToString(data)),
		)
	}
	return ack, data, err
}

func (t *SerialTransport) Download(address uint16, data []byte) (AckCode, error) {
	ack, _, err := t.exchange(CommandDownloadFrame(address, data), 0)
	t.logger.Debug("Download",
		slog.String("address", fmt.Sprintf("%04x", address)),
		slog.String("data", hex.EncodeToString(data)),
		slog.String("result", ack.String()),
	)
	return ack, err
}

// 要求電文を送って応答を受け取る。dataBytes > 0 ならACKの後にデータ部が続く。
func (t *SerialTransport) exchange(frame Frame, dataBytes int) (AckCode, []byte, error) {
	if _, err := frame.Write(t.stream); err != nil {
		return NoResponse, nil, err
	}
	ack, err := t.readAck()
	if err != nil || ack != Ack || dataBytes == 0 {
		return ack, nil, err
	}
	// STX, データ, CRC(2バイト)
	buf := make([]byte, 1+dataBytes+2)
	if err := t.readFull(buf); err != nil {
		if errors.Is(err, ErrTimeout) {
			return NoResponse, nil, nil
		}
		return NoResponse, nil, err
	}
	if buf[0] != STX {
		t.logger.Debug("missing STX", slog.String("frame", hex.EncodeToString(buf)))
		return Nak, nil, nil
	}
	data := buf[1 : 1+dataBytes]
	checksum := binary.BigEndian.Uint16(buf[1+dataBytes:])
	// データ部チェックサム検査
	if checksum != CalcChecksum(data) {
		t.logger.Debug(
			"data checksum mismatched",
			"checksum", CalcChecksum(data),
			"DataChecksum", checksum,
		)
		return Nak, nil, nil
	}
	return Ack, data, nil
}

func (t *SerialTransport) readAck() (AckCode, error) {
	var b [1]byte
	if err := t.readFull(b[:]); err != nil {
		if errors.Is(err, ErrTimeout) {
			return NoResponse, nil
		}
		return NoResponse, err
	}
	switch code := AckCode(b[0]); code {
	case Ack, Nak, Cancel:
		return code, nil
	default:
		t.logger.Debug("unexpected ack byte", slog.String("byte", fmt.Sprintf("%02x", b[0])))
		return Nak, nil
	}
}

// 応答待ち時間内にbufを埋める
func (t *SerialTransport) readFull(buf []byte) error {
	deadline := time.Now().Add(t.ResponseTimeout)
	for i := 0; i < len(buf); {
		n, err := t.stream.Read(buf[i:])
		i += n
		if err != nil && err != io.EOF {
			return err
		}
		if n == 0 { // 読み取りデータ不足
			if time.Now().After(deadline) {
				return ErrTimeout
			}
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}
