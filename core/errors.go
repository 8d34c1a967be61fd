package core

import "errors"

var (
	// ErrInit 初始化失败，进程在进入主循环前退出
	ErrInit = errors.New("init failed")
	// ErrSyncTimeout 一个帧周期内没有收到数据，触发丢包补偿
	ErrSyncTimeout = errors.New("sync timeout")

	ErrUnsupportedTransport = errors.New("unsupported transport")
	ErrUnsupportedPTT       = errors.New("unsupported ptt source")
)
