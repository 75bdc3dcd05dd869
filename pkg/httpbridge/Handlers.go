package httpbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/mqtttransport-go/api"
)

// maximum size of a PUT body
const maxBodySize = 1 << 20

// StatusForError maps a transport error onto a HTTP status code
func StatusForError(err error) int {
	switch {
	case errors.Is(err, api.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, api.ErrNotSupported):
		return http.StatusNotImplemented
	}
	return http.StatusBadGateway
}

// WriteError writes the error message with its status code
func WriteError(resp http.ResponseWriter, req *http.Request, err error) {
	status := StatusForError(err)
	logrus.Infof("HttpBridge: %s %s from %s failed (%d): %s", req.Method, req.URL.Path, req.RemoteAddr, status, err)
	http.Error(resp, err.Error(), status)
}

// WriteJSON writes the value as a JSON response
func WriteJSON(resp http.ResponseWriter, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		http.Error(resp, err.Error(), http.StatusInternalServerError)
		return
	}
	resp.Header().Set("Content-Type", "application/json")
	resp.WriteHeader(http.StatusOK)
	_, _ = resp.Write(data)
}

func (bridge *HttpBridge) handleList(resp http.ResponseWriter, req *http.Request) {
	ids, err := bridge.transport.List()
	if err != nil {
		WriteError(resp, req, err)
		return
	}
	WriteJSON(resp, ids)
}

func (bridge *HttpBridge) handleAbout(resp http.ResponseWriter, req *http.Request) {
	id, err := pathVar(req, "id")
	if err == nil {
		var about map[string]interface{}
		about, err = bridge.transport.About(id)
		if err == nil {
			WriteJSON(resp, about)
			return
		}
	}
	WriteError(resp, req, err)
}

func (bridge *HttpBridge) handleBands(resp http.ResponseWriter, req *http.Request) {
	id, err := pathVar(req, "id")
	if err == nil {
		var bands []string
		bands, err = bridge.transport.Bands(id)
		if err == nil {
			WriteJSON(resp, bands)
			return
		}
	}
	WriteError(resp, req, err)
}

// idBand returns the unescaped id and band of the request path
func idBand(req *http.Request) (id string, band string, err error) {
	id, err = pathVar(req, "id")
	if err != nil {
		return "", "", err
	}
	band, err = pathVar(req, "band")
	return id, band, err
}

func (bridge *HttpBridge) handleGet(resp http.ResponseWriter, req *http.Request) {
	id, band, err := idBand(req)
	if err == nil {
		var record api.Record
		record, err = bridge.transport.Get(id, band)
		if err == nil {
			WriteJSON(resp, record)
			return
		}
	}
	WriteError(resp, req, err)
}

// handlePut publishes the JSON object in the body and returns the published record
func (bridge *HttpBridge) handlePut(resp http.ResponseWriter, req *http.Request) {
	id, band, err := idBand(req)
	if err != nil {
		WriteError(resp, req, err)
		return
	}
	var value map[string]interface{}
	err = json.NewDecoder(http.MaxBytesReader(resp, req.Body, maxBodySize)).Decode(&value)
	if err != nil {
		WriteError(resp, req, fmt.Errorf("%w: body is not a JSON object: %s", api.ErrInvalidArgument, err))
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), bridge.PutTimeout)
	defer cancel()
	record, err := bridge.transport.Put(ctx, id, band, value)
	if err != nil {
		WriteError(resp, req, err)
		return
	}
	WriteJSON(resp, record)
}

func (bridge *HttpBridge) handleRemove(resp http.ResponseWriter, req *http.Request) {
	id, band, err := idBand(req)
	if err == nil {
		err = bridge.transport.Remove(id, band)
		if err == nil {
			resp.WriteHeader(http.StatusNoContent)
			return
		}
	}
	WriteError(resp, req, err)
}
