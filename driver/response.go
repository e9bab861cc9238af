package driver

import (
	"fmt"
	"strings"
	"time"

	"github.com/scrapli/scrapligo/util"
)

// Response is the result of one command or config line.
type Response struct {
	Host               string        `json:"host"`
	Input              string        `json:"input"`
	RawResult          []byte        `json:"-"`
	Result             string        `json:"result"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            time.Time     `json:"end_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	FailedWhenContains []string      `json:"-"`
	Failed             bool          `json:"failed"`
	TextFsmPlatform    string        `json:"-"`
}

// NewResponse 创建响应并记录开始时间
func NewResponse(host, input string, failedWhenContains []string) *Response {
	return &Response{
		Host:               host,
		Input:              input,
		StartTime:          time.Now(),
		FailedWhenContains: failedWhenContains,
	}
}

// Record stores the output and marks the response failed when the result
// contains any of the failure strings.
func (r *Response) Record(raw []byte, result string) {
	r.EndTime = time.Now()
	r.ElapsedTime = r.EndTime.Sub(r.StartTime)
	r.RawResult = raw
	r.Result = result

	for _, s := range r.FailedWhenContains {
		if strings.Contains(r.Result, s) {
			r.Failed = true
			return
		}
	}
}

// TextFsmParse parses Result with the TextFSM template at path, which may be a
// local file or an URL.
func (r *Response) TextFsmParse(path string) ([]map[string]interface{}, error) {
	return util.TextFsmParse(r.Result, path)
}

func (r *Response) String() string {
	return fmt.Sprintf("Response <Success: %t>", !r.Failed)
}

// MultiResponse collects the responses of a batch.
type MultiResponse struct {
	Host        string        `json:"host"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     time.Time     `json:"end_time"`
	ElapsedTime time.Duration `json:"elapsed_time"`
	Responses   []*Response   `json:"responses"`
	Failed      bool          `json:"failed"`
}

// NewMultiResponse 创建批量响应
func NewMultiResponse(host string) *MultiResponse {
	return &MultiResponse{Host: host, StartTime: time.Now()}
}

// AppendResponse adds r; one failed response fails the batch.
func (m *MultiResponse) AppendResponse(r *Response) {
	m.EndTime = time.Now()
	m.ElapsedTime = m.EndTime.Sub(m.StartTime)
	m.Responses = append(m.Responses, r)
	if r.Failed {
		m.Failed = true
	}
}

// JoinedResult joins every result with a newline.
func (m *MultiResponse) JoinedResult() string {
	results := make([]string, len(m.Responses))
	for i, r := range m.Responses {
		results[i] = r.Result
	}
	return strings.Join(results, "\n")
}

func (m *MultiResponse) String() string {
	return fmt.Sprintf("MultiResponse <Success: %t; Response Elements: %d>", !m.Failed, len(m.Responses))
}
