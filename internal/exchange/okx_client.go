package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"grid_bot/internal/models"
)

const okxBaseURL = "https://www.okx.com"

// okxClient подписанный REST-транспорт OKX v5.
type okxClient struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	apiSecret string
	passph    string
	simulated bool
	now       func() time.Time
}

// okxEnvelope общий конверт ответа: code/msg + data.
type okxEnvelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data okxRaw `json:"data"`
}

type okxRaw []byte

func (m *okxRaw) UnmarshalJSON(b []byte) error {
	*m = append((*m)[:0], b...)
	return nil
}

func (c *okxClient) sign(ts, method, requestPath, body string) string {
	msg := ts + strings.ToUpper(method) + requestPath + body
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// do выполняет запрос и раскладывает data в out. Не-нулевой code превращается в RejectError.
func (c *okxClient) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("okx.%s marshal: %w", op, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("okx.%s new request: %w", op, err)
	}

	ts := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	req.Header.Set("Content-Type", "application/json")
	if c.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("okx.%s do: %w", op, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		return fmt.Errorf("okx.%s http %d: %s", op, resp.StatusCode, string(data))
	}

	var env okxEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("okx.%s decode: %w; body=%s", op, err, string(data))
	}
	if env.Code != "0" {
		// sCode конкретного ордера обычно информативнее общего кода
		var items []okxAck
		_ = sonic.Unmarshal(env.Data, &items)
		if len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
			return reject(models.ExchangeOKX, op, items[0].SCode, items[0].SMsg)
		}
		if resp.StatusCode/100 != 2 {
			return fmt.Errorf("okx.%s http %d: code=%s msg=%s", op, resp.StatusCode, env.Code, env.Msg)
		}
		return reject(models.ExchangeOKX, op, env.Code, env.Msg)
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("okx.%s decode data: %w", op, err)
	}
	return nil
}
