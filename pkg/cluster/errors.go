package cluster

import "microcore/pkg/apperror"

func errAlreadyRegistered(event string) error {
	return apperror.New(apperror.CodeInvalidArgument, "event ["+event+"] already exists")
}

func errAlreadyStarted() error {
	return apperror.New(apperror.CodeInvalidArgument, "server is registered")
}

func errNotStarted() error {
	return apperror.New(apperror.CodeInvalidArgument, "server is not registered")
}

func errRegisterFailed() error {
	return apperror.New(apperror.CodeLeaseLost, "server register error")
}
