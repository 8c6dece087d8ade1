//go:build windows

package input

import (
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                       = windows.NewLazySystemDLL("user32.dll")
	kernel32                     = windows.NewLazySystemDLL("kernel32.dll")
	procSetWindowsHookEx         = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx           = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx      = user32.NewProc("UnhookWindowsHookEx")
	procGetMessage               = user32.NewProc("GetMessageW")
	procTranslateMessage         = user32.NewProc("TranslateMessage")
	procDispatchMessage          = user32.NewProc("DispatchMessageW")
	procPostThreadMessage        = user32.NewProc("PostThreadMessageW")
	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
	procGetKeyboardLayout        = user32.NewProc("GetKeyboardLayout")
	procSendInput                = user32.NewProc("SendInput")
	procGetModuleHandle          = kernel32.NewProc("GetModuleHandleW")
)

const (
	whKeyboardLL  = 13
	hcAction      = 0
	wmQuit        = 0x0012
	wmKeyDown     = 0x0100
	wmSysKeyDown  = 0x0104
	llkhfInjected = 0x00000010
)

type kbdllhookstruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type msg struct {
	Hwnd    syscall.Handle
	Message uint32
	Wparam  uintptr
	Lparam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

// WindowsHook is a WH_KEYBOARD_LL hook running on its own locked OS thread.
// The hook procedure is a closure over the WindowsHook, so several hooks may
// coexist and none of them needs package-level state.
type WindowsHook struct {
	mu       sync.Mutex
	handler  func(KeyEvent)
	callback uintptr
	cbOnce   sync.Once
	threadID uint32
	done     chan struct{}
}

// NewHook returns an uninstalled hook.
func NewHook() *WindowsHook {
	return &WindowsHook{}
}

// Install starts the hook thread and returns once the OS accepted or refused
// the hook. Installing an installed hook is a no-op.
func (h *WindowsHook) Install(handler func(KeyEvent)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done != nil {
		return nil
	}

	// Callbacks are never released by the runtime, so create one per hook.
	h.cbOnce.Do(func() {
		h.callback = syscall.NewCallback(h.proc)
	})
	h.handler = handler

	started := make(chan error, 1)
	done := make(chan struct{})
	go h.loop(started, done)
	if err := <-started; err != nil {
		return err
	}
	h.done = done
	return nil
}

// Uninstall stops the message loop and removes the hook. Callbacks already
// running complete first.
func (h *WindowsHook) Uninstall() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done == nil {
		return nil
	}
	ret, _, err := procPostThreadMessage.Call(uintptr(h.threadID), wmQuit, 0, 0)
	if ret == 0 {
		return fmt.Errorf("PostThreadMessageW: %w", err)
	}
	<-h.done
	h.done = nil
	return nil
}

// Hooks must be registered in the same thread that runs the message loop.
func (h *WindowsHook) loop(started chan<- error, done chan struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(done)

	hMod, _, _ := procGetModuleHandle.Call(0)
	hook, _, err := procSetWindowsHookEx.Call(whKeyboardLL, h.callback, hMod, 0)
	if hook == 0 {
		started <- fmt.Errorf("SetWindowsHookExW: %w", err)
		return
	}
	h.threadID = windows.GetCurrentThreadId()
	started <- nil

	var m msg
	for {
		ret, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(ret) <= 0 {
			break
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&m)))
		procDispatchMessage.Call(uintptr(unsafe.Pointer(&m)))
	}

	procUnhookWindowsHookEx.Call(hook)
}

func (h *WindowsHook) proc(nCode int, wParam uintptr, lParam uintptr) uintptr {
	if nCode == hcAction {
		kbd := (*kbdllhookstruct)(unsafe.Pointer(lParam))
		fg, _, _ := procGetForegroundWindow.Call()
		var hkl uintptr
		if fg != 0 {
			tid, _, _ := procGetWindowThreadProcessId.Call(fg, 0)
			hkl, _, _ = procGetKeyboardLayout.Call(tid)
		}
		h.handler(KeyEvent{
			VirtualKey: kbd.VkCode,
			ScanCode:   kbd.ScanCode,
			Down:       wParam == wmKeyDown || wParam == wmSysKeyDown,
			Injected:   kbd.Flags&llkhfInjected != 0,
			Layout:     hkl,
			Window:     fg,
			Time:       time.Now(),
		})
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}
