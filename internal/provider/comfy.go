package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
)

// Remote generateStatus codes. Translated to the tagged State here and
// nowhere else.
const (
	comfyStatusSucceeded = 5
	comfyStatusFailed    = 6
	comfyStatusExpired   = 7
)

const (
	comfySubmitPath = "/api/generate/comfyui/app"
	comfyStatusPath = "/api/generate/comfy/status"
)

// ComfyClient talks to the comfy-graph image generation API with
// HMAC-SHA1-signed requests. It implements ImageGenerator.
type ComfyClient struct {
	baseURL   string
	accessKey string
	secretKey string
	http      *http.Client
	classify  Classification

	// jobSlots remembers each in-flight job's user-photo slots so that a
	// rejection surfacing at status time can still be attributed.
	mu       sync.Mutex
	jobSlots map[string][]string
}

func NewComfyClient(baseURL, accessKey, secretKey string, timeout time.Duration, classify Classification) *ComfyClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ComfyClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		accessKey: accessKey,
		secretKey: secretKey,
		http:      &http.Client{Timeout: timeout},
		classify:  classify,
		jobSlots:  make(map[string][]string),
	}
}

type comfyEnvelope struct {
	Code int        `json:"code"`
	Msg  string     `json:"msg"`
	Data *comfyData `json:"data"`
}

type comfyData struct {
	GenerateUUID     string       `json:"generateUuid"`
	GenerateStatus   int          `json:"generateStatus"`
	PercentCompleted float64      `json:"percentCompleted"`
	GenerateMsg      string       `json:"generateMsg"`
	PointsCost       float64      `json:"pointsCost"`
	Images           []comfyImage `json:"images"`
}

type comfyImage struct {
	ImageURL string `json:"imageUrl"`
}

// Submit posts the request graph and returns the remote job id. Moderation
// rejections surface here as classified *Error values.
func (c *ComfyClient) Submit(ctx context.Context, req Request) (string, error) {
	params := make(map[string]any, len(req.Nodes)+1)
	if req.WorkflowUUID != "" {
		params["workflowUuid"] = req.WorkflowUUID
	}
	for id, node := range req.Nodes {
		params[id] = node
	}
	body := map[string]any{
		"templateUuid":   req.TemplateUUID,
		"generateParams": params,
	}

	env, err := c.post(ctx, comfySubmitPath, body)
	if err != nil {
		return "", err
	}
	if env.Code != 0 {
		return "", c.classify.Classify(strconv.Itoa(env.Code), env.Msg, req.UserSlots)
	}
	if env.Data == nil || env.Data.GenerateUUID == "" {
		return "", &Error{Kind: KindTransient, Message: "submit returned no job id"}
	}
	c.rememberSlots(env.Data.GenerateUUID, req.UserSlots)
	return env.Data.GenerateUUID, nil
}

// Status checks one job and translates the remote status code. Failures are
// classified here, with the user slots recorded at submit time, so that a
// moderation rejection discovered mid-poll keeps its attribution.
func (c *ComfyClient) Status(ctx context.Context, jobID string) (JobStatus, error) {
	env, err := c.post(ctx, comfyStatusPath, map[string]any{"generateUuid": jobID})
	if err != nil {
		return JobStatus{}, err
	}
	if env.Code != 0 {
		return JobStatus{}, c.classify.Classify(strconv.Itoa(env.Code), env.Msg, c.slotsFor(jobID))
	}
	if env.Data == nil {
		return JobStatus{}, &Error{Kind: KindTransient, Message: "status returned no data"}
	}

	st := JobStatus{
		Fraction: clampFraction(env.Data.PercentCompleted),
		Cost:     env.Data.PointsCost,
		Code:     strconv.Itoa(env.Data.GenerateStatus),
		Message:  env.Data.GenerateMsg,
	}
	switch env.Data.GenerateStatus {
	case comfyStatusSucceeded:
		st.State = StateSucceeded
		if len(env.Data.Images) > 0 {
			st.ResultURL = sanitizeURL(env.Data.Images[0].ImageURL)
		}
		if st.ResultURL == "" {
			return JobStatus{}, &Error{Kind: KindTransient, Message: "job succeeded without an image url"}
		}
		c.forgetSlots(jobID)
	case comfyStatusFailed, comfyStatusExpired:
		st.State = StateFailed
		slots := c.slotsFor(jobID)
		c.forgetSlots(jobID)
		return st, c.classify.Classify(st.Code, st.Message, slots)
	default:
		st.State = StatePending
	}
	return st, nil
}

func (c *ComfyClient) rememberSlots(jobID string, slots []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobSlots[jobID] = slots
}

func (c *ComfyClient) slotsFor(jobID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobSlots[jobID]
}

func (c *ComfyClient) forgetSlots(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobSlots, jobID)
}

func (c *ComfyClient) post(ctx context.Context, path string, body any) (*comfyEnvelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	signed, err := c.signedURL(path)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, signed, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Message: "image api request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Message: "read image api response", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:    KindTransient,
			Code:    strconv.Itoa(resp.StatusCode),
			Message: strings.TrimSpace(string(raw)),
		}
	}

	var env comfyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &Error{Kind: KindTransient, Message: "decode image api response", Err: err}
	}
	return &env, nil
}

// signedURL appends the AccessKey/Signature/Timestamp/SignatureNonce query
// parameters the API requires: HMAC-SHA1 over "uri&timestamp&nonce",
// base64url without padding.
func (c *ComfyClient) signedURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	content := fmt.Sprintf("%s&%s&%s", u.Path, timestamp, nonce)

	mac := hmac.New(sha1.New, []byte(c.secretKey))
	mac.Write([]byte(content))
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	q := u.Query()
	q.Set("AccessKey", c.accessKey)
	q.Set("Signature", signature)
	q.Set("Timestamp", timestamp)
	q.Set("SignatureNonce", nonce)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func clampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// BuildRequest maps the logical inputs of a workflow onto its provider-side
// slots and merges any extra graph nodes.
func BuildRequest(wf model.WorkflowOption, userPhotoURLs []string, templateURL string) Request {
	nodes := make(map[string]model.GraphNode, len(wf.Slots.UserPhoto)+len(wf.Slots.TemplateImage)+len(wf.Extra))
	for i, nodeID := range wf.Slots.UserPhoto {
		if len(userPhotoURLs) == 0 {
			break
		}
		photo := userPhotoURLs[len(userPhotoURLs)-1]
		if i < len(userPhotoURLs) {
			photo = userPhotoURLs[i]
		}
		nodes[nodeID] = model.GraphNode{
			ClassType: "LoadImage",
			Inputs:    map[string]any{"image": photo},
		}
	}
	if templateURL != "" {
		for _, nodeID := range wf.Slots.TemplateImage {
			nodes[nodeID] = model.GraphNode{
				ClassType: "LoadImage",
				Inputs:    map[string]any{"image": templateURL},
			}
		}
	}
	for nodeID, node := range wf.Extra {
		nodes[nodeID] = node
	}
	return Request{
		TemplateUUID: wf.TemplateUUID,
		WorkflowUUID: wf.WorkflowUUID,
		Nodes:        nodes,
		UserSlots:    wf.Slots.UserPhoto,
	}
}

// sanitizeURL extracts the first http(s) URL from a possibly decorated
// string; provider responses occasionally wrap urls in backticks or
// whitespace.
func sanitizeURL(v string) string {
	trimmed := strings.TrimSpace(v)
	if i := strings.Index(trimmed, "http://"); i >= 0 {
		trimmed = trimmed[i:]
	} else if i := strings.Index(trimmed, "https://"); i >= 0 {
		trimmed = trimmed[i:]
	}
	if j := strings.IndexAny(trimmed, " `\"'\n\t"); j >= 0 {
		trimmed = trimmed[:j]
	}
	return strings.Trim(trimmed, "`")
}
