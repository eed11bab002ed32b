package srpc

import (
	"html/template"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
)

const (
	DefaultDebugPath    = "/debug/srpc"
	DefaultServicesPath = "/debug/srpc/services"
)

const debugText = `<html>
	<body>
	<title>SRPC Services</title>
	<hr>
	Services
	<hr>
		<table>
		<th align=center>Service</th><th align=center>Offered</th><th align=center>Calls</th>
		{{range .Services}}
			<tr>
			<td align=left font=fixed>{{.Name}}</td>
			<td align=center>{{.Offered}}</td>
			<td align=center>{{.NumCalls}}</td>
			</tr>
		{{end}}
		</table>
	<hr>
	Sessions
	<hr>
		<table>
		<th align=center>ID</th><th align=center>Service</th><th align=center>Peer</th><th align=center>State</th><th align=center>Turn</th><th align=center>Calls</th><th align=center>Age</th>
		{{range .Sessions}}
			<tr>
			<td align=left font=fixed>{{.ID}}</td>
			<td align=center>{{.Service}}</td>
			<td align=center>{{.RemoteAddr}}</td>
			<td align=center>{{.State}}</td>
			<td align=center>{{.Turn}}</td>
			<td align=center>{{.NumCalls}}</td>
			<td align=center>{{.Since}}</td>
			</tr>
		{{end}}
		</table>
	</body>
	</html>`

var debug = template.Must(template.New("RPC debug").Parse(debugText))

type DebugHTTP struct {
	server *Server
}

type DebugService struct {
	Name     string
	Offered  time.Duration
	NumCalls uint64
}

type debugPage struct {
	Services []*DebugService
	Sessions []*Session
}

func (server DebugHTTP) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var calls map[string]uint64
	if mux, ok := server.server.handler.(*ServeMux); ok {
		calls = make(map[string]uint64)
		for _, stat := range mux.Stats() {
			calls[stat.Name] = stat.NumCalls
		}
	}
	page := debugPage{Sessions: server.server.Sessions()}
	for _, item := range server.server.Registry().Services() {
		page.Services = append(page.Services, &DebugService{
			Name:     item.Name,
			Offered:  item.Since().Round(time.Second),
			NumCalls: calls[item.Name],
		})
	}
	err := debug.Execute(w, page)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

// NewDebugHandler 返回调试页面的路由
// GET /debug/srpc 显示服务和会话，GET /debug/srpc/services 通过 X-Srpc-Services 返回服务列表
func NewDebugHandler(server *Server) http.Handler {
	router := httprouter.New()
	router.Handler("GET", DefaultDebugPath, DebugHTTP{server: server})
	router.Handler("GET", DefaultServicesPath, server.Registry())
	router.Handler("HEAD", DefaultServicesPath, server.Registry())
	return router
}
