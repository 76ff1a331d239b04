package record

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paivaspol/mahimahi/pkg/httpmsg"
)

func sampleRecord() *RequestResponse {
	rec := &RequestResponse{
		Scheme: SchemeHTTPS,
		IP:     "93.184.216.34",
		Port:   443,
	}
	rec.Request.FirstLine = "GET /index.html HTTP/1.1"
	rec.Request.Headers = []httpmsg.Header{
		{Name: "Host", Value: "example.com"},
		{Name: "Accept", Value: "*/*"},
	}
	rec.Response.FirstLine = "HTTP/1.1 200 OK"
	rec.Response.Headers = []httpmsg.Header{
		{Name: "Content-Type", Value: "text/html"},
		{Name: "Content-Length", Value: "5"},
	}
	rec.Response.Body = []byte("hello")
	return rec
}

func TestRecordWireRoundTrip(t *testing.T) {
	rec := sampleRecord()
	data := rec.Marshal()

	var decoded RequestResponse
	require.NoError(t, decoded.Unmarshal(data))

	assert.Equal(t, *rec, decoded)
	// Header order must survive the codec.
	assert.Equal(t, "Host", decoded.Request.Headers[0].Name)
	assert.Equal(t, "Accept", decoded.Request.Headers[1].Name)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var rec RequestResponse
	assert.Error(t, rec.Unmarshal([]byte{0xff, 0xff, 0xff}))
}

func TestDiskStoreSaveAndLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetLevel(logrus.PanicLevel)

	store, err := NewDiskStore(dir, log)
	require.NoError(t, err)

	req := httpmsg.NewRequest()
	req.FirstLine = "GET /a HTTP/1.1"
	req.AddHeader("Host", "ex.com")
	resp := &httpmsg.Response{}
	resp.FirstLine = "HTTP/1.1 200 OK"
	resp.AddHeader("Content-Length", "2")
	resp.Body = []byte("ok")
	resp.SetRequest(req)

	require.NoError(t, store.Save(resp, SchemeHTTP, "10.0.0.1", 80))
	require.NoError(t, store.Save(resp, SchemeHTTP, "10.0.0.1", 80))

	records, paths, err := LoadDirectory(dir)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Len(t, paths, 2)
	assert.Equal(t, SchemeHTTP, records[0].Scheme)
	assert.Equal(t, "GET /a HTTP/1.1", records[0].Request.FirstLine)
	assert.Equal(t, "ok", string(records[0].Response.Body))
}

func TestNoopStoreDiscards(t *testing.T) {
	resp := &httpmsg.Response{}
	resp.SetRequest(httpmsg.NewRequest())
	assert.NoError(t, NoopStore{}.Save(resp, SchemeHTTP, "", 0))
}

func TestSaveWithoutRequestIsInternalError(t *testing.T) {
	dir := t.TempDir()
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetLevel(logrus.PanicLevel)
	store, err := NewDiskStore(dir, log)
	require.NoError(t, err)

	err = store.Save(&httpmsg.Response{}, SchemeHTTP, "", 0)
	assert.Error(t, err)
	_ = os.RemoveAll(dir)
}
