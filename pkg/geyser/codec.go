package geyser

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// codecName is the gRPC content-subtype used on the wire
// (application/grpc+json).
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const (
	serviceName      = "ballot.geyser.Geyser"
	subscribeMethod  = "/" + serviceName + "/Subscribe"
	subscribeStreamN = "Subscribe"
)

// geyserService is the server side of the Geyser service.
type geyserService interface {
	Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*geyserService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    subscribeStreamN,
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "geyser.proto",
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(SubscribeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(geyserService).Subscribe(req, stream)
}
