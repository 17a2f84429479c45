// Package pr — унифицированный вывод для интерактивных CLI-процессов флота
// (fleetctl) и для перенаправления логов демона. Поверх readline с
// отменяемым stdin: пока оператор набирает команду, печать идёт в буферы
// readline и не рвёт строку ввода. Мьютекс защищает только подмену целевых
// writer'ов; сами записи должны быть потокобезопасны на стороне writer'а.
package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"
	"golang.org/x/term"
)

var (
	mu sync.Mutex

	// rl — активный инстанс readline; nil до Init.
	rl *readline.Instance

	// out/errOut — текущие потоки вывода. До Init — os.Stdout/os.Stderr,
	// после — буферы readline.
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr

	// cancelableIn закрывается для прерывания ожидания ввода (io.EOF у
	// readline) при shutdown.
	cancelableIn interface{ Close() error }
)

// Init настраивает readline и перенаправляет вывод на его stdout/stderr.
// Повторный вызов не предусмотрен.
func Init() error {
	cs := readline.NewCancelableStdin(os.Stdin)
	newRl, err := readline.NewEx(&readline.Config{Stdin: cs})
	if err != nil {
		_ = cs.Close()
		return err
	}

	mu.Lock()
	rl = newRl
	cancelableIn = cs
	out = newRl.Stdout()
	errOut = newRl.Stderr()
	mu.Unlock()
	return nil
}

// InterruptReadline закрывает cancelable stdin: Readline() получает io.EOF
// и возвращается. Идемпотентна.
func InterruptReadline() {
	mu.Lock()
	cs := cancelableIn
	mu.Unlock()
	if cs != nil {
		_ = cs.Close()
	}
}

// SetPrompt задаёт строку приглашения. No-op до Init.
func SetPrompt(prompt string) {
	if r := Rl(); r != nil {
		r.SetPrompt(prompt)
	}
}

// Rl возвращает текущий инстанс readline (nil, если Init не вызывался).
func Rl() *readline.Instance {
	mu.Lock()
	defer mu.Unlock()
	return rl
}

// Stdout возвращает текущий writer стандартного вывода.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Stderr возвращает текущий writer ошибок.
func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

// Println печатает значения в Stdout с переводом строки. Работает и до
// Init, через os.Stdout.
func Println(a ...any) {
	fmt.Fprintln(Stdout(), a...)
}

// Printf форматирует и печатает в Stdout.
func Printf(format string, a ...any) {
	fmt.Fprintf(Stdout(), format, a...)
}

// ErrPrintln печатает значения в Stderr с переводом строки.
func ErrPrintln(a ...any) {
	fmt.Fprintln(Stderr(), a...)
}

// IsInteractive сообщает, подключён ли stdin к настоящему терминалу, а не к
// пайпу или перенаправленному файлу. Команды с подтверждением разрушительных
// операций пропускают вопрос, когда это false, чтобы скриптовые запуски не
// зависали в ожидании ввода.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// PP pretty-печатает значение в Stdout. Отладочный помощник; в горячих
// участках не использовать из-за аллокаций.
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}

// Pf возвращает pretty-строку значения.
func Pf(v any) string {
	return fmt.Sprintf("%# v\n", pretty.Formatter(v))
}
