package httpapi

import (
	"io"
	"net/http"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/campusid/internal/wire"
)

// maxProtoBody caps protobuf request bodies. A validation request with a
// full QR payload encodes to well under 1 KiB.
const maxProtoBody = 16 << 10

const protobufContentType = "application/x-protobuf"

// isProtobuf returns true if the request's Content-Type indicates a
// protobuf payload.
func isProtobuf(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == protobufContentType ||
		ct == "application/protobuf" ||
		ct == "application/octet-stream"
}

// readProto reads the request body and unmarshals it into msg.
func readProto(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxProtoBody))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

// readStruct decodes a protobuf Struct body into v.
func readStruct(r *http.Request, v any) error {
	var s structpb.Struct
	if err := readProto(r, &s); err != nil {
		return err
	}
	return wire.FromStruct(&s, v)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeStruct encodes v as a protobuf Struct.
func writeStruct(w http.ResponseWriter, status int, v any) {
	s, err := wire.ToStruct(v)
	if err != nil {
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	writeProto(w, status, s)
}
