// Package pxgrpc is the gRPC transport.
//
// The service is declared by hand rather than generated:
// one bidirectional stream whose items are protobuf BytesValue wrappers
// around encoded messages.
// An empty value in the response direction means "no response".
package pxgrpc

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	serviceName  = "gproxy.v1.ValidatorNode"
	exchangeName = "Exchange"

	// ExchangeMethod is the full method name of the exchange stream.
	ExchangeMethod = "/" + serviceName + "/" + exchangeName
)

// ValidatorNodeServer is the server API of the ValidatorNode service.
type ValidatorNodeServer interface {
	Exchange(ValidatorNode_ExchangeServer) error
}

// ValidatorNode_ExchangeServer is the server side of one exchange stream.
type ValidatorNode_ExchangeServer interface {
	Send(*wrapperspb.BytesValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type validatorNodeExchangeServer struct {
	grpc.ServerStream
}

func (x *validatorNodeExchangeServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func (x *validatorNodeExchangeServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _ValidatorNode_Exchange_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(ValidatorNodeServer).Exchange(&validatorNodeExchangeServer{stream})
}

// RegisterValidatorNodeServer registers the ValidatorNode service on a gRPC server.
func RegisterValidatorNodeServer(s grpc.ServiceRegistrar, srv ValidatorNodeServer) {
	s.RegisterService(&ValidatorNode_ServiceDesc, srv)
}

// ValidatorNode_ServiceDesc is the grpc.ServiceDesc for the ValidatorNode service.
var ValidatorNode_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ValidatorNodeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    exchangeName,
			Handler:       _ValidatorNode_Exchange_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "gproxy/v1/validator_node.proto",
}
