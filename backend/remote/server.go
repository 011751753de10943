package remote

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/oasisprotocol/oasis-core/go/common/logging"

	"github.com/oasisprotocol/oasis-kms/crypto/signature"
)

// Server serves a local signer over gRPC.
type Server struct {
	signer *signature.Signer

	logger *logging.Logger
}

// NewServer creates a new signer service over a clone of the given signer. The server must be
// closed to release the clone.
func NewServer(signer *signature.Signer) *Server {
	return &Server{
		signer: signer.Clone(),
		logger: logging.GetLogger("kms/backend/remote/server").With(
			"public_key", signer.PublicKey().String(),
		),
	}
}

// Register registers the signer service with the given gRPC server, which should have been
// created with NewGRPCServer.
func (s *Server) Register(srv *grpc.Server) {
	srv.RegisterService(&serviceDesc, s)
}

// Close releases the served signer.
func (s *Server) Close() {
	s.signer.Close()
}

// PublicKey implements the PublicKey method of the signer service.
func (s *Server) PublicKey(ctx context.Context, rq *PublicKeyRequest) (*PublicKeyResponse, error) {
	pk := s.signer.PublicKey()
	return &PublicKeyResponse{
		PublicKey: pk[:],
	}, nil
}

// Sign implements the Sign method of the signer service.
func (s *Server) Sign(ctx context.Context, rq *SignRequest) (*SignResponse, error) {
	sig, err := s.signer.Sign(rq.Message)
	switch {
	case err == nil:
	case errors.Is(err, signature.ErrSignerClosed):
		return nil, status.Error(codes.Unavailable, err.Error())
	default:
		s.logger.Error("failed to serve signing request",
			"err", err,
		)
		return nil, status.Error(codes.Aborted, err.Error())
	}

	return &SignResponse{
		Signature: sig[:],
	}, nil
}
