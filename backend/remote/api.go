// Package remote implements a signing backend served over gRPC by a remote key-management
// service, together with the service exposing a local signer.
package remote

import (
	"context"

	"google.golang.org/grpc"

	"github.com/oasisprotocol/oasis-core/go/common/cbor"
)

const (
	serviceName = "oasis-kms.Signer"

	codecName = "oasis-kms-cbor"
)

var (
	methodPublicKey = "/" + serviceName + "/PublicKey"
	methodSign      = "/" + serviceName + "/Sign"
)

// PublicKeyRequest is a request for the public key of the served signer.
type PublicKeyRequest struct{}

// PublicKeyResponse is the public key of the served signer.
type PublicKeyResponse struct {
	PublicKey []byte `json:"public_key"`
}

// SignRequest is a request to sign a message.
type SignRequest struct {
	Message []byte `json:"message"`
}

// SignResponse is the signature over the requested message.
type SignResponse struct {
	Signature []byte `json:"signature"`
}

// signerService is the service exposed by a remote signer.
type signerService interface {
	PublicKey(context.Context, *PublicKeyRequest) (*PublicKeyResponse, error)
	Sign(context.Context, *SignRequest) (*SignResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*signerService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "PublicKey",
			Handler:    handlerPublicKey,
		},
		{
			MethodName: "Sign",
			Handler:    handlerSign,
		},
	},
	Streams: []grpc.StreamDesc{},
}

func handlerPublicKey(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var rq PublicKeyRequest
	if err := dec(&rq); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(signerService).PublicKey(ctx, &rq)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: methodPublicKey,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(signerService).PublicKey(ctx, req.(*PublicKeyRequest))
	}
	return interceptor(ctx, &rq, info, handler)
}

func handlerSign(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var rq SignRequest
	if err := dec(&rq); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(signerService).Sign(ctx, &rq)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: methodSign,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(signerService).Sign(ctx, req.(*SignRequest))
	}
	return interceptor(ctx, &rq, info, handler)
}

// cborCodec is the gRPC codec used by the signer service.
type cborCodec struct{}

func (cborCodec) Marshal(v interface{}) ([]byte, error) {
	return cbor.Marshal(v), nil
}

func (cborCodec) Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}

func (cborCodec) Name() string {
	return codecName
}

// NewGRPCServer creates a new gRPC server able to serve the signer service.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(cborCodec{}))
	return grpc.NewServer(opts...)
}
